package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) (contracts.Response, error)

func (f pingFunc) Send(ctx context.Context, action string, data any, timeout time.Duration, opts ...messaging.EnvelopeOption) (contracts.Response, error) {
	return f(ctx)
}

func TestPingChecker(t *testing.T) {
	tests := []struct {
		name     string
		resp     contracts.Response
		err      error
		expected Status
	}{
		{"pong", contracts.Response{"success": true, "message": "pong"}, nil, StatusHealthy},
		{"compensated", contracts.Response{"success": true, "message": "pong", "mv3Bug": true}, nil, StatusDegraded},
		{"invalidated", contracts.NewGracefulFailure(), nil, StatusUnhealthy},
		{"error", nil, errors.New("boom"), StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewPingChecker("background", pingFunc(func(ctx context.Context) (contracts.Response, error) {
				return tt.resp, tt.err
			}), time.Second)

			result := checker.Check(context.Background())
			assert.Equal(t, "background", result.Name)
			assert.Equal(t, tt.expected, result.Status)
		})
	}
}

func TestPingCheckerDetails(t *testing.T) {
	checker := NewPingChecker("background", pingFunc(func(ctx context.Context) (contracts.Response, error) {
		return contracts.Response{"success": true, "message": "pong"}, nil
	}), 250*time.Millisecond)

	result := checker.Check(context.Background())
	assert.Equal(t, int64(250), result.Details["timeoutMs"])
	assert.Contains(t, result.Details, "rttMs")
}

type statsFunc func() messaging.RegistryStats

func (f statsFunc) GetStatistics() messaging.RegistryStats {
	return f()
}

func TestMessagingChecker(t *testing.T) {
	stats := messaging.RegistryStats{
		TotalInstances: 2,
		Contexts:       []string{"options", "popup"},
		Known:          2,
		Pending:        3,
	}
	source := statsFunc(func() messaging.RegistryStats { return stats })

	t.Run("within limit", func(t *testing.T) {
		result := NewMessagingChecker("messengers", source, 10).Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, "2 messengers, 3 requests in flight", result.Message)
		assert.Equal(t, 3, result.Details["pending"])
		assert.Equal(t, []string{"options", "popup"}, result.Details["contexts"])
	})

	t.Run("backlog degrades", func(t *testing.T) {
		result := NewMessagingChecker("messengers", source, 2).Check(context.Background())
		assert.Equal(t, StatusDegraded, result.Status)
	})

	t.Run("live registry", func(t *testing.T) {
		registry, err := messaging.NewRegistry(messaging.TransportFunc(func(ctx context.Context, e *contracts.Envelope) (contracts.Response, error) {
			return contracts.Response{"success": true}, nil
		}), nil)
		require.NoError(t, err)
		_, err = registry.GetMessenger(contracts.ContextPopup)
		require.NoError(t, err)

		result := NewMessagingChecker("messengers", registry, 0).Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, []string{"popup"}, result.Details["contexts"])
	})
}

func TestRouterChecker(t *testing.T) {
	router := messaging.NewRouter()
	checker := NewRouterChecker("handlers", router)
	assert.Equal(t, StatusUnhealthy, checker.Check(context.Background()).Status)

	require.NoError(t, router.HandleFunc(contracts.ActionPing, func(ctx context.Context, e *contracts.Envelope) (any, error) {
		return nil, nil
	}))
	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "1 actions handled", result.Message)
}

func TestConnectionChecker(t *testing.T) {
	done := make(chan struct{})
	checker := NewConnectionChecker("transport", done)

	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)
	close(done)
	assert.Equal(t, StatusUnhealthy, checker.Check(context.Background()).Status)
}

func TestRegistryCheck(t *testing.T) {
	healthy := NewCheckerFunc("a", func(ctx context.Context) CheckResult {
		return CheckResult{Name: "a", Status: StatusHealthy}
	})
	degraded := NewCheckerFunc("b", func(ctx context.Context) CheckResult {
		return CheckResult{Name: "b", Status: StatusDegraded}
	})
	slow := NewCheckerFunc("c", func(ctx context.Context) CheckResult {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return CheckResult{Name: "c", Status: StatusHealthy}
	})

	t.Run("worst status wins", func(t *testing.T) {
		r := NewRegistry()
		r.Register(healthy)
		r.Register(degraded)
		r.SetMetadata("transport", "memory")

		health := r.Check(context.Background())
		assert.Equal(t, StatusDegraded, health.Status)
		assert.Len(t, health.Checks, 2)
		assert.Equal(t, "memory", health.Metadata["transport"])
	})

	t.Run("timeout marks unfinished checks", func(t *testing.T) {
		r := NewRegistry()
		r.Register(healthy)
		r.Register(slow)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		health := r.Check(ctx)
		assert.Equal(t, StatusUnhealthy, health.Status)
		assert.Equal(t, "check timed out", health.Checks["c"].Message)
	})

	t.Run("register replaces by name", func(t *testing.T) {
		r := NewRegistry()
		r.Register(degraded)
		r.Register(NewCheckerFunc("b", func(ctx context.Context) CheckResult {
			return CheckResult{Name: "b", Status: StatusHealthy}
		}))

		health := r.Check(context.Background())
		assert.Equal(t, StatusHealthy, health.Status)
		assert.Len(t, health.Checks, 1)
	})

	t.Run("unregister", func(t *testing.T) {
		r := NewRegistry()
		r.Register(degraded)
		r.Unregister("b")
		assert.Equal(t, StatusHealthy, r.Check(context.Background()).Status)
	})
}

func TestHealthHandler(t *testing.T) {
	r := NewRegistry()
	down := make(chan struct{})
	r.Register(NewConnectionChecker("transport", down))
	handler := NewHandler(r, time.Second)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var health OverallHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, StatusHealthy, health.Status)

	close(down)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, "alive", rec.Body.String())
}
