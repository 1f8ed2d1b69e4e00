package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glimte/xmsg/contracts"
)

// compensate reinterprets an undefined reply. The underlying call usually
// succeeded and only the reply channel was lost.
func (m *Messenger) compensate(ctx context.Context, envelope *contracts.Envelope, start time.Time, kind contracts.Compensation, waiter *resultWaiter) (contracts.Response, error) {
	m.metrics.RecordCompensation(envelope.Action, kind)
	m.logger.Warn("undefined reply received, compensating",
		"action", envelope.Action,
		"messageId", envelope.MessageID,
		"compensation", kind.String(),
	)

	switch kind {
	case contracts.CompensatePong:
		m.finish(envelope, start, RequestStatusResolved, OutcomeCompensated)
		return contracts.Response{"success": true, "message": contracts.PongMessage}, nil

	case contracts.CompensateAwaitResult:
		return m.awaitResult(ctx, envelope, start, waiter)

	case contracts.CompensateGrace:
		if err := sleepContext(ctx, m.cfg.speechGrace); err != nil {
			m.finish(envelope, start, RequestStatusRejected, OutcomeRejected)
			return nil, err
		}
		m.finish(envelope, start, RequestStatusResolved, OutcomeCompensated)
		return contracts.Response{
			"success": true,
			"message": contracts.SpeechAcknowledged,
			"mv3Bug":  true,
		}, nil

	case contracts.CompensateBestEffort:
		m.finish(envelope, start, RequestStatusResolved, OutcomeCompensated)
		return contracts.Response{
			"success": true,
			"message": contracts.UndefinedReplyMessage,
			"mv3Bug":  true,
		}, nil
	}

	m.finish(envelope, start, RequestStatusRejected, OutcomeRejected)
	return nil, fmt.Errorf("messaging: unhandled compensation %s for action %s", kind, envelope.Action)
}

func (m *Messenger) awaitResult(ctx context.Context, envelope *contracts.Envelope, start time.Time, waiter *resultWaiter) (contracts.Response, error) {
	if waiter == nil {
		m.finish(envelope, start, RequestStatusRejected, OutcomeRejected)
		return nil, ErrResultChannelUnavailable
	}

	timer := time.NewTimer(m.cfg.resultTimeout)
	defer timer.Stop()

	select {
	case update := <-waiter.results:
		m.logger.Debug("result update received",
			"action", envelope.Action,
			"messageId", envelope.MessageID,
		)
		m.finish(envelope, start, RequestStatusResolved, OutcomeCompensated)
		return contracts.ResponseFromEnvelope(update), nil

	case <-timer.C:
		m.logger.Warn("result update never arrived",
			"action", envelope.Action,
			"messageId", envelope.MessageID,
			"timeout", m.cfg.resultTimeout,
		)
		m.finish(envelope, start, RequestStatusRejected, OutcomeTimeout)
		return nil, &contracts.TimeoutError{
			Action:   envelope.Action,
			Duration: m.cfg.resultTimeout,
			Phase:    contracts.PhaseResult,
		}

	case <-ctx.Done():
		m.finish(envelope, start, RequestStatusRejected, OutcomeRejected)
		return nil, ctx.Err()
	}
}

// resultWaiter holds the first result update matching a request
type resultWaiter struct {
	results     chan *contracts.Envelope
	unsubscribe func()
	once        sync.Once
}

func watchResult(broadcaster Broadcaster, original *contracts.Envelope) *resultWaiter {
	w := &resultWaiter{results: make(chan *contracts.Envelope, 1)}
	w.unsubscribe = broadcaster.OnMessage(func(event *contracts.Envelope) {
		if !event.IsResultUpdateFor(original) {
			return
		}
		select {
		case w.results <- event:
		default:
		}
	})
	return w
}

func (w *resultWaiter) stop() {
	w.once.Do(func() {
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
