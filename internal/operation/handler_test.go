package operation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_ledger/internal/queue"
)

func setupHandlerApp(f fixture) *fiber.App {
	h := NewHandler(f.dispatcher, f.results)
	app := fiber.New()
	app.Post("/wallets/:walletId/operation", h.Submit)
	app.Get("/tasks/:taskId", h.Task)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp.StatusCode, decoded
}

func TestHandlerSubmitAndPoll(t *testing.T) {
	f := newFixture()
	app := setupHandlerApp(f)
	w := f.newWallet(t, "100.00")
	path := "/wallets/" + w.ID.String() + "/operation"

	status, body := doJSON(t, app, fiber.MethodPost, path, `{"operation_type":"DEPOSIT","amount":"50.00"}`)
	require.Equal(t, http.StatusOK, status)
	taskID, _ := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	status, body = doJSON(t, app, fiber.MethodGet, "/tasks/"+taskID, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(queue.StatusPending), body["status"])

	f.worker(f.store, nil).Process(context.Background(), f.reserve(t))

	status, body = doJSON(t, app, fiber.MethodGet, "/tasks/"+taskID, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(queue.StatusCommitted), body["status"])
	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "50.00", result["amount"])
	assert.Equal(t, "DEPOSIT", result["operation_type"])
}

func TestHandlerSubmitErrors(t *testing.T) {
	f := newFixture()
	app := setupHandlerApp(f)
	w := f.newWallet(t, "100.00")
	path := "/wallets/" + w.ID.String() + "/operation"

	cases := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown wallet", "/wallets/" + uuid.NewString() + "/operation", `{"operation_type":"DEPOSIT","amount":"1"}`, http.StatusNotFound},
		{"bad wallet id", "/wallets/abc/operation", `{"operation_type":"DEPOSIT","amount":"1"}`, http.StatusUnprocessableEntity},
		{"zero amount", path, `{"operation_type":"DEPOSIT","amount":"0"}`, http.StatusBadRequest},
		{"negative amount", path, `{"operation_type":"WITHDRAW","amount":"-5"}`, http.StatusBadRequest},
		{"above ceiling", path, `{"operation_type":"DEPOSIT","amount":"10000000000000000"}`, http.StatusBadRequest},
		{"too precise", path, `{"operation_type":"DEPOSIT","amount":"1.005"}`, http.StatusBadRequest},
		{"insufficient funds", path, `{"operation_type":"WITHDRAW","amount":"150.00"}`, http.StatusBadRequest},
		{"unknown type", path, `{"operation_type":"TRANSFER","amount":"1"}`, http.StatusUnprocessableEntity},
		{"missing amount", path, `{"operation_type":"DEPOSIT"}`, http.StatusUnprocessableEntity},
		{"broken json", path, `{"operation_type":`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := doJSON(t, app, fiber.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, status)
		})
	}
}

func TestHandlerUnknownTask(t *testing.T) {
	app := setupHandlerApp(newFixture())
	status, _ := doJSON(t, app, fiber.MethodGet, "/tasks/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, status)
}
