package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_ledger/internal/logging"
)

func TestRedisNotifierPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	sub := client.Subscribe(ctx, "wallet-events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(client, "wallet-events")
	msg := Message{Kind: KindOperationCommitted, TaskID: "t1", WalletID: "w1", Body: "DEPOSIT 10.00"}
	require.NoError(t, n.Send(ctx, msg))

	select {
	case got := <-sub.Channel():
		var decoded Message
		require.NoError(t, json.Unmarshal([]byte(got.Payload), &decoded))
		assert.Equal(t, msg, decoded)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not published")
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Send(context.Context, Message) error {
	f.calls++
	return errors.New("down")
}

func TestMultiDeliversToAll(t *testing.T) {
	first := &failingNotifier{}
	second := &failingNotifier{}
	m := Multi{first, NewLoggerNotifier(logging.Discard()), second}

	err := m.Send(context.Background(), Message{Kind: KindOperationFailed})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}
