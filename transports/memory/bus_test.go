package memory

import (
	"context"
	"testing"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/facades"
	"github.com/glimte/xmsg/internal/reliability"
	"github.com/glimte/xmsg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackground(t *testing.T, bus *Bus) *messaging.Router {
	t.Helper()
	router := messaging.NewRouter()
	stop, err := bus.Listen(contracts.ContextBackground, router)
	require.NoError(t, err)
	t.Cleanup(stop)
	return router
}

func newPopup(t *testing.T, bus *Bus, opts ...messaging.MessengerOption) *messaging.Messenger {
	t.Helper()
	m, err := messaging.NewMessenger(contracts.ContextPopup, bus, bus, opts...)
	require.NoError(t, err)
	return m
}

func TestBusDelivery(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to the listening context", func(t *testing.T) {
		bus := NewBus()
		router := newBackground(t, bus)
		require.NoError(t, router.HandleFunc(contracts.ActionPing, func(ctx context.Context, e *contracts.Envelope) (any, error) {
			return map[string]any{"success": true, "message": "pong", "from": e.Context}, nil
		}))

		resp, err := newPopup(t, bus).Send(ctx, contracts.ActionPing, nil, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "pong", resp.Message())
		assert.Equal(t, contracts.ContextPopup, resp["from"])
	})

	t.Run("payloads arrive as JSON shapes", func(t *testing.T) {
		bus := NewBus()
		router := newBackground(t, bus)

		var received any
		require.NoError(t, router.HandleFunc(contracts.ActionTranslate, func(ctx context.Context, e *contracts.Envelope) (any, error) {
			received = e.Data
			return map[string]any{"success": true}, nil
		}))

		translator := facades.NewTranslationMessenger(newPopup(t, bus))
		_, err := translator.Translate(ctx, facades.TranslateRequest{Text: "Hello", To: "fr"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"text": "Hello", "to": "fr"}, received)
	})

	t.Run("addresses other targets", func(t *testing.T) {
		bus := NewBus()
		content := messaging.NewRouter()
		stop, err := bus.Listen(contracts.ContextContent, content)
		require.NoError(t, err)
		defer stop()

		require.NoError(t, content.HandleFunc(contracts.ActionGetSelectState, func(ctx context.Context, e *contracts.Envelope) (any, error) {
			return map[string]any{"success": true, "active": true}, nil
		}))

		m, err := messaging.NewMessenger(contracts.ContextPopup, bus.To(contracts.ContextContent), bus)
		require.NoError(t, err)

		state, err := facades.NewSelectionMessenger(m).GetState(ctx)
		require.NoError(t, err)
		assert.True(t, state.Active)
	})

	t.Run("rejects a second listener for a target", func(t *testing.T) {
		bus := NewBus()
		newBackground(t, bus)

		_, err := bus.Listen(contracts.ContextBackground, messaging.NewRouter())
		assert.Error(t, err)
	})

	t.Run("nothing listening", func(t *testing.T) {
		bus := NewBus()

		_, err := bus.Send(ctx, &contracts.Envelope{Action: "x", Context: "popup", MessageID: "1", Timestamp: 1})
		assert.ErrorIs(t, err, reliability.ErrNoReceiver)
	})

	t.Run("stopping a listener", func(t *testing.T) {
		bus := NewBus()
		stop, err := bus.Listen(contracts.ContextBackground, messaging.NewRouter())
		require.NoError(t, err)
		stop()

		_, err = bus.Send(ctx, &contracts.Envelope{Action: "x", Context: "popup", MessageID: "1", Timestamp: 1})
		assert.ErrorIs(t, err, reliability.ErrNoReceiver)
	})
}

func TestBusFaults(t *testing.T) {
	ctx := context.Background()

	t.Run("invalidation downgrades to a graceful failure", func(t *testing.T) {
		bus := NewBus()
		newBackground(t, bus)
		bus.Invalidate()

		resp, err := newPopup(t, bus).Send(ctx, "GET_STATE", nil, time.Second)
		require.NoError(t, err)
		assert.True(t, resp.IsGracefulFailure())

		bus.Restore()
		resp, err = newPopup(t, bus).Send(ctx, "GET_STATE", nil, time.Second)
		require.NoError(t, err)
		assert.False(t, resp.IsGracefulFailure())
	})

	t.Run("a dropped ping reply is compensated", func(t *testing.T) {
		bus := NewBus(WithDropReply(func(e *contracts.Envelope) bool { return true }))
		router := newBackground(t, bus)
		require.NoError(t, router.HandleFunc(contracts.ActionPing, func(ctx context.Context, e *contracts.Envelope) (any, error) {
			return map[string]any{"success": true, "message": "pong"}, nil
		}))

		resp, err := newPopup(t, bus).Send(ctx, contracts.ActionPing, nil, time.Second)
		require.NoError(t, err)
		assert.Equal(t, contracts.Response{"success": true, "message": "pong"}, resp)
	})

	t.Run("a dropped translation reply is recovered from the result broadcast", func(t *testing.T) {
		bus := NewBus(WithDropReply(func(e *contracts.Envelope) bool {
			return e.Action == contracts.ActionTranslate
		}))
		results := messaging.NewResultPublisher(bus)

		router := newBackground(t, bus)
		require.NoError(t, router.HandleFunc(contracts.ActionTranslate, func(ctx context.Context, e *contracts.Envelope) (any, error) {
			payload := map[string]any{"success": true, "translatedText": "Bonjour"}
			if err := results.PublishResult(ctx, e, payload); err != nil {
				return nil, err
			}
			return payload, nil
		}))

		translator := facades.NewTranslationMessenger(newPopup(t, bus))
		resp, err := translator.Translate(ctx, facades.TranslateRequest{Text: "Hello", To: "fr"})
		require.NoError(t, err)
		assert.Equal(t, "Bonjour", resp["translatedText"])
		assert.Equal(t, contracts.ActionTranslationResultUpdate, resp["action"])
		assert.Zero(t, bus.Subscribers())
	})

	t.Run("latency past the timeout", func(t *testing.T) {
		bus := NewBus(WithLatency(200 * time.Millisecond))
		newBackground(t, bus)

		_, err := newPopup(t, bus).Send(ctx, "GET_STATE", nil, 30*time.Millisecond)
		assert.ErrorIs(t, err, contracts.ErrTimeout)
	})
}

func TestBusBroadcast(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	var got []*contracts.Envelope
	unsubscribe := bus.OnMessage(func(e *contracts.Envelope) {
		got = append(got, e)
	})
	assert.Equal(t, 1, bus.Subscribers())

	original := &contracts.Envelope{Action: contracts.ActionTranslate, Context: "popup", MessageID: "popup-1-1", Timestamp: 1}
	require.NoError(t, bus.Broadcast(ctx, contracts.NewResultUpdate(original, map[string]any{"n": 1})))

	require.Len(t, got, 1)
	assert.True(t, got[0].IsResultUpdateFor(original))
	assert.Equal(t, map[string]any{"n": float64(1)}, got[0].Data)

	unsubscribe()
	require.NoError(t, bus.Broadcast(ctx, original))
	assert.Len(t, got, 1)
	assert.Zero(t, bus.Subscribers())

	bus.Invalidate()
	assert.ErrorIs(t, bus.Broadcast(ctx, original), reliability.ErrContextInvalidated)
}
