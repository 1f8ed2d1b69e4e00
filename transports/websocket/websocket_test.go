package websocket

import (
	"context"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/internal/reliability"
	"github.com/glimte/xmsg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, receiver messaging.Receiver) (*Hub, string) {
	t.Helper()
	hub := NewHub(receiver)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func popupMessenger(t *testing.T, client *Client) *messaging.Messenger {
	t.Helper()
	m, err := messaging.NewMessenger(contracts.ContextPopup, client, client)
	require.NoError(t, err)
	return m
}

func TestRequestReply(t *testing.T) {
	ctx := context.Background()

	router := messaging.NewRouter()
	require.NoError(t, router.HandleFunc(contracts.ActionPing, func(ctx context.Context, e *contracts.Envelope) (any, error) {
		return map[string]any{"success": true, "message": "pong"}, nil
	}))
	require.NoError(t, router.HandleFunc("QUIET", func(ctx context.Context, e *contracts.Envelope) (any, error) {
		return nil, nil
	}))
	require.NoError(t, router.HandleFunc("ECHO", func(ctx context.Context, e *contracts.Envelope) (any, error) {
		return map[string]any{"data": e.Data, "from": e.Context}, nil
	}))

	_, url := startHub(t, router)
	m := popupMessenger(t, dial(t, url))

	t.Run("defined reply", func(t *testing.T) {
		resp, err := m.Send(ctx, contracts.ActionPing, nil, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, contracts.Response{"success": true, "message": "pong"}, resp)
	})

	t.Run("undefined reply is compensated", func(t *testing.T) {
		resp, err := m.Send(ctx, "QUIET", nil, 2*time.Second)
		require.NoError(t, err)
		assert.True(t, resp.IsCompensated())
	})

	t.Run("concurrent requests correlate", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp, err := m.Send(ctx, "ECHO", map[string]any{"n": i}, 2*time.Second)
				if assert.NoError(t, err) {
					assert.Equal(t, map[string]any{"n": float64(i)}, resp["data"])
				}
			}(i)
		}
		wg.Wait()
	})

	t.Run("unknown action", func(t *testing.T) {
		resp, err := m.Send(ctx, "NOPE", nil, 2*time.Second)
		require.NoError(t, err)
		detail, failed := resp.Error()
		require.True(t, failed)
		assert.Equal(t, 404, detail.StatusCode)
	})
}

func TestHubWithoutReceiver(t *testing.T) {
	_, url := startHub(t, nil)
	m := popupMessenger(t, dial(t, url))

	_, err := m.Send(context.Background(), "GET_STATE", nil, 2*time.Second)

	var transportErr *contracts.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "no-receiver", transportErr.Type)
}

func TestTranslationResultRecovery(t *testing.T) {
	router := messaging.NewRouter()
	hub, url := startHub(t, router)
	results := messaging.NewResultPublisher(hub)

	require.NoError(t, router.HandleFunc(contracts.ActionTranslate, func(ctx context.Context, e *contracts.Envelope) (any, error) {
		if err := results.PublishResult(ctx, e, map[string]any{"translatedText": "Bonjour"}); err != nil {
			return nil, err
		}
		return nil, nil
	}))

	m := popupMessenger(t, dial(t, url))
	resp, err := m.Send(context.Background(), contracts.ActionTranslate, map[string]any{"text": "Hello"}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", resp["translatedText"])
}

func TestBroadcastRelay(t *testing.T) {
	hub, url := startHub(t, messaging.NewRouter())
	sender := dial(t, url)
	listener := dial(t, url)

	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	var atListener, atHub []string
	listener.OnMessage(func(e *contracts.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		atListener = append(atListener, e.Action)
	})
	hub.OnMessage(func(e *contracts.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		atHub = append(atHub, e.Action)
	})

	env := &contracts.Envelope{Action: "SETTINGS_CHANGED", Context: contracts.ContextOptions, MessageID: "options-1-1", Timestamp: 1}
	require.NoError(t, sender.Broadcast(context.Background(), env))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(atListener) == 1 && len(atHub) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubClose(t *testing.T) {
	hub, url := startHub(t, messaging.NewRouter())
	client := dial(t, url)
	m := popupMessenger(t, client)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Close())

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the hub closing")
	}

	resp, err := m.Send(context.Background(), "GET_STATE", nil, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.IsGracefulFailure())

	assert.ErrorIs(t, hub.Broadcast(context.Background(), &contracts.Envelope{Action: "x"}), reliability.ErrContextInvalidated)
}

func TestUnencodablePayloads(t *testing.T) {
	ctx := context.Background()

	router := messaging.NewRouter()
	require.NoError(t, router.HandleFunc(contracts.ActionPing, func(ctx context.Context, e *contracts.Envelope) (any, error) {
		return map[string]any{"success": true, "message": "pong"}, nil
	}))
	require.NoError(t, router.HandleFunc("SCORE", func(ctx context.Context, e *contracts.Envelope) (any, error) {
		return map[string]any{"score": math.NaN()}, nil
	}))

	hub, url := startHub(t, router)
	client := dial(t, url)
	m := popupMessenger(t, client)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	ping := func(t *testing.T) {
		t.Helper()
		resp, err := m.Send(ctx, contracts.ActionPing, nil, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, contracts.Response{"success": true, "message": "pong"}, resp)
	}

	t.Run("request data is a transport error", func(t *testing.T) {
		resp, err := m.Send(ctx, "GET_STATE", map[string]any{"x": math.Inf(1)}, 2*time.Second)
		assert.Nil(t, resp)

		var transportErr *contracts.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.NotEqual(t, string(reliability.ErrorTypeContextInvalidated), transportErr.Type)
		assert.Contains(t, err.Error(), "failed to marshal envelope")

		ping(t)
	})

	t.Run("handler reply becomes a failure response", func(t *testing.T) {
		resp, err := m.Send(ctx, "SCORE", nil, 2*time.Second)
		require.NoError(t, err)
		detail, failed := resp.Error()
		require.True(t, failed)
		assert.Equal(t, 500, detail.StatusCode)
		assert.Equal(t, 1, hub.Clients())

		ping(t)
	})

	t.Run("broadcasts are refused without disconnecting anyone", func(t *testing.T) {
		env := &contracts.Envelope{Action: "SETTINGS_CHANGED", Context: contracts.ContextOptions, Data: map[string]any{"x": math.NaN()}}

		err := hub.Broadcast(ctx, env)
		require.Error(t, err)
		assert.NotErrorIs(t, err, reliability.ErrContextInvalidated)

		err = client.Broadcast(ctx, env)
		require.Error(t, err)
		assert.NotErrorIs(t, err, reliability.ErrContextInvalidated)

		assert.Equal(t, 1, hub.Clients())
		ping(t)
	})
}

func TestHubCloseWaitsForHandlers(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	router := messaging.NewRouter()
	require.NoError(t, router.HandleFunc("SLOW", func(ctx context.Context, e *contracts.Envelope) (any, error) {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil, nil
	}))

	hub, url := startHub(t, router)
	m := popupMessenger(t, dial(t, url))

	go func() {
		_, _ = m.Send(context.Background(), "SLOW", nil, 5*time.Second)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	require.NoError(t, hub.Close())
	assert.True(t, finished.Load())
}
