//go:build integration
// +build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/messaging"
	"github.com/glimte/xmsg/transports/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRedisURL string

func init() {
	testRedisURL = os.Getenv("REDIS_URL")
	if testRedisURL == "" {
		testRedisURL = "redis://localhost:6379/0"
	}
}

func dial(t *testing.T, channel string) *Broadcaster {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := Dial(ctx, testRedisURL, WithChannel(channel))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestResultUpdateOverRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	channel := "xmsg:test:" + uuid.New().String()[:8]
	background := dial(t, channel)
	popup := dial(t, channel)

	// Requests travel over the memory bus; only the result update crosses Redis.
	bus := memory.NewBus()
	router := messaging.NewRouter()
	results := messaging.NewResultPublisher(background)
	require.NoError(t, router.HandleFunc(contracts.ActionTranslate, func(ctx context.Context, e *contracts.Envelope) (any, error) {
		return nil, results.PublishResult(ctx, e, map[string]any{"translatedText": "Hallo"})
	}))
	stop, err := bus.Listen(contracts.ContextBackground, router)
	require.NoError(t, err)
	defer stop()

	m, err := messaging.NewMessenger(contracts.ContextPopup, bus, popup)
	require.NoError(t, err)

	resp, err := m.Send(context.Background(), contracts.ActionTranslate, map[string]any{"text": "Hello"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Hallo", resp["translatedText"])
}

func TestClosedBroadcasterIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	b := dial(t, "xmsg:test:"+uuid.New().String()[:8])
	require.NoError(t, b.Close())

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end")
	}
	assert.Error(t, b.Broadcast(context.Background(), &contracts.Envelope{Action: "x"}))
}
