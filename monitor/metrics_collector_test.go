package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/messaging"
	"github.com/glimte/xmsg/transports/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleMetricsCollector(t *testing.T) {
	t.Run("counts outcomes per action", func(t *testing.T) {
		c := NewSimpleMetricsCollector()
		c.RecordRequest(contracts.ContextPopup, contracts.ActionPing, messaging.OutcomeResolved, 10*time.Millisecond)
		c.RecordRequest(contracts.ContextPopup, contracts.ActionPing, messaging.OutcomeCompensated, 30*time.Millisecond)
		c.RecordRequest(contracts.ContextContent, contracts.ActionTranslate, messaging.OutcomeTimeout, 20*time.Millisecond)

		summary := c.GetMetricsSummary()
		assert.Equal(t, int64(3), summary.TotalRequests)
		assert.Equal(t, int64(1), summary.Outcomes[contracts.ActionPing][messaging.OutcomeResolved])
		assert.Equal(t, int64(1), summary.Outcomes[contracts.ActionPing][messaging.OutcomeCompensated])
		assert.Equal(t, int64(1), summary.Outcomes[contracts.ActionTranslate][messaging.OutcomeTimeout])
		assert.Equal(t, map[string]int64{contracts.ContextPopup: 2, contracts.ContextContent: 1}, summary.Contexts)

		ping := summary.Durations[contracts.ActionPing]
		assert.Equal(t, int64(2), ping.Count)
		assert.Equal(t, int64(10), ping.MinMs)
		assert.Equal(t, int64(30), ping.MaxMs)
		assert.Equal(t, int64(20), ping.AvgMs)
	})

	t.Run("percentiles over recent samples", func(t *testing.T) {
		c := NewSimpleMetricsCollector()
		for i := 1; i <= 100; i++ {
			c.RecordRequest(contracts.ContextPopup, "X", messaging.OutcomeResolved, time.Duration(i)*time.Millisecond)
		}

		stats := c.GetMetricsSummary().Durations["X"]
		assert.Equal(t, int64(50), stats.P50Ms)
		assert.Equal(t, int64(95), stats.P95Ms)
		assert.Equal(t, int64(99), stats.P99Ms)
	})

	t.Run("compensations by kind", func(t *testing.T) {
		c := NewSimpleMetricsCollector()
		c.RecordCompensation(contracts.ActionTTSSpeak, contracts.CompensateGrace)
		c.RecordCompensation(contracts.ActionTTSSpeak, contracts.CompensateGrace)

		assert.Equal(t, int64(2), c.GetMetricsSummary().Compensations[contracts.ActionTTSSpeak]["grace"])
	})

	t.Run("summary is a copy", func(t *testing.T) {
		c := NewSimpleMetricsCollector()
		c.RecordRequest(contracts.ContextPopup, "X", messaging.OutcomeResolved, time.Millisecond)

		summary := c.GetMetricsSummary()
		summary.Outcomes["X"][messaging.OutcomeResolved] = 100

		assert.Equal(t, int64(1), c.GetMetricsSummary().Outcomes["X"][messaging.OutcomeResolved])
	})

	t.Run("reset", func(t *testing.T) {
		c := NewSimpleMetricsCollector()
		c.RecordRequest(contracts.ContextPopup, "X", messaging.OutcomeResolved, time.Millisecond)
		c.Reset()

		assert.Zero(t, c.GetMetricsSummary().TotalRequests)
	})
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPrometheusCollector("xmsg", reg)
	require.NoError(t, err)

	c.RecordRequest(contracts.ContextPopup, contracts.ActionPing, messaging.OutcomeResolved, 5*time.Millisecond)
	c.RecordRequest(contracts.ContextPopup, contracts.ActionPing, messaging.OutcomeResolved, 5*time.Millisecond)
	c.RecordCompensation(contracts.ActionTranslate, contracts.CompensateAwaitResult)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues(contracts.ContextPopup, contracts.ActionPing, "resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.compensations.WithLabelValues(contracts.ActionTranslate, "await-result")))

	expected := `
# HELP xmsg_messaging_compensations_total Undefined replies reinterpreted, by action and compensation kind.
# TYPE xmsg_messaging_compensations_total counter
xmsg_messaging_compensations_total{action="TRANSLATE",kind="await-result"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "xmsg_messaging_compensations_total"))

	_, err = NewPrometheusCollector("xmsg", reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestCollectorsWiredIntoMessenger(t *testing.T) {
	bus := memory.NewBus()
	router := messaging.NewRouter()
	stop, err := bus.Listen(contracts.ContextBackground, router)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, router.HandleFunc("QUIET", func(ctx context.Context, e *contracts.Envelope) (any, error) {
		return nil, nil
	}))

	simple := NewSimpleMetricsCollector()
	prom, err := NewPrometheusCollector("test", nil)
	require.NoError(t, err)

	m, err := messaging.NewMessenger(contracts.ContextSidepanel, bus, bus,
		messaging.WithMetrics(MultiCollector{simple, prom}))
	require.NoError(t, err)

	_, err = m.Send(context.Background(), "QUIET", nil, time.Second)
	require.NoError(t, err)

	summary := simple.GetMetricsSummary()
	assert.Equal(t, int64(1), summary.Outcomes["QUIET"][messaging.OutcomeCompensated])
	assert.Equal(t, int64(1), summary.Compensations["QUIET"]["best-effort"])
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.requests.WithLabelValues(contracts.ContextSidepanel, "QUIET", "compensated")))
}

func TestDispatchMiddleware(t *testing.T) {
	metrics := NewSimpleMetricsCollector()
	router := messaging.NewRouter(messaging.WithMiddleware(DispatchMiddleware(metrics)))
	require.NoError(t, router.HandleFunc("OK", func(ctx context.Context, e *contracts.Envelope) (any, error) {
		return map[string]any{"success": true}, nil
	}))
	require.NoError(t, router.HandleFunc("FAIL", func(ctx context.Context, e *contracts.Envelope) (any, error) {
		return nil, contracts.NewValidationError("text", "required")
	}))

	format := messaging.NewMessageFormat(nil)
	for _, action := range []string{"OK", "FAIL"} {
		env, err := format.Create(action, nil, contracts.ContextContent)
		require.NoError(t, err)
		router.Dispatch(context.Background(), env)
	}

	summary := metrics.GetMetricsSummary()
	assert.Equal(t, int64(1), summary.Outcomes["OK"][messaging.OutcomeResolved])
	assert.Equal(t, int64(1), summary.Outcomes["FAIL"][messaging.OutcomeRejected])
	assert.Equal(t, int64(2), summary.Contexts[contracts.ContextContent])
}
