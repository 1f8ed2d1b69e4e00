package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/messaging"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// OverallHealth represents the overall health
type OverallHealth struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Checks    map[string]CheckResult `json:"checks"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// CheckerFunc is a function adapter for Checker
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

func NewCheckerFunc(name string, fn func(ctx context.Context) CheckResult) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (c *CheckerFunc) Check(ctx context.Context) CheckResult {
	return c.fn(ctx)
}

func (c *CheckerFunc) Name() string {
	return c.name
}

// Pinger sends a request and waits for its terminal state
type Pinger interface {
	Send(ctx context.Context, action string, data any, timeout time.Duration, opts ...messaging.EnvelopeOption) (contracts.Response, error)
}

// NewPingChecker reports whether the receiving context answers a ping. A
// reply reconstructed from an undefined response counts as degraded, a
// graceful failure or an error as unhealthy.
func NewPingChecker(name string, pinger Pinger, timeout time.Duration) *CheckerFunc {
	return NewCheckerFunc(name, func(ctx context.Context) CheckResult {
		start := time.Now()
		result := CheckResult{Name: name, Status: StatusHealthy, Message: "pong"}

		resp, err := pinger.Send(ctx, contracts.ActionPing, nil, timeout)
		switch {
		case err != nil:
			result.Status = StatusUnhealthy
			result.Message = "ping failed"
			result.Error = err.Error()
		case resp.IsGracefulFailure():
			result.Status = StatusUnhealthy
			result.Message = "extension context invalidated"
		case resp.IsCompensated():
			result.Status = StatusDegraded
			result.Message = "undefined reply"
		}

		result.Duration = time.Since(start)
		result.Details = map[string]any{
			"timeoutMs": timeout.Milliseconds(),
			"rttMs":     result.Duration.Milliseconds(),
		}
		result.Timestamp = time.Now()
		return result
	})
}

// NewConnectionChecker is unhealthy once done is closed
func NewConnectionChecker(name string, done <-chan struct{}) *CheckerFunc {
	return NewCheckerFunc(name, func(ctx context.Context) CheckResult {
		result := CheckResult{Name: name, Status: StatusHealthy, Message: "connected", Timestamp: time.Now()}
		select {
		case <-done:
			result.Status = StatusUnhealthy
			result.Message = "connection closed"
		default:
		}
		return result
	})
}

// StatsSource exposes the messenger registry's statistics
type StatsSource interface {
	GetStatistics() messaging.RegistryStats
}

// NewMessagingChecker reports the live messengers and their in-flight
// requests. More than maxPending requests in flight counts as degraded.
func NewMessagingChecker(name string, source StatsSource, maxPending int) *CheckerFunc {
	return NewCheckerFunc(name, func(ctx context.Context) CheckResult {
		stats := source.GetStatistics()
		result := CheckResult{
			Name:    name,
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d messengers, %d requests in flight", stats.TotalInstances, stats.Pending),
			Details: map[string]any{
				"contexts": stats.Contexts,
				"known":    stats.Known,
				"unknown":  stats.Unknown,
				"pending":  stats.Pending,
			},
			Timestamp: time.Now(),
		}
		if maxPending > 0 && stats.Pending > maxPending {
			result.Status = StatusDegraded
		}
		return result
	})
}

// ActionLister is a receiver that can list the actions it handles
type ActionLister interface {
	Actions() []string
}

// NewRouterChecker is unhealthy while no action has a handler, since every
// request would then come back as unknown.
func NewRouterChecker(name string, router ActionLister) *CheckerFunc {
	return NewCheckerFunc(name, func(ctx context.Context) CheckResult {
		actions := router.Actions()
		result := CheckResult{
			Name:      name,
			Status:    StatusHealthy,
			Message:   fmt.Sprintf("%d actions handled", len(actions)),
			Details:   map[string]any{"actions": actions},
			Timestamp: time.Now(),
		}
		if len(actions) == 0 {
			result.Status = StatusUnhealthy
		}
		return result
	})
}

// severity orders statuses so the worst one wins
var severity = map[Status]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnhealthy: 2,
}

func worse(a, b Status) Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// Registry runs the health checks of one xmsg process
type Registry struct {
	checkers []Checker
	metadata map[string]any
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{metadata: make(map[string]any)}
}

// Register adds checker, replacing any checker of the same name
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.checkers {
		if c.Name() == checker.Name() {
			r.checkers[i] = checker
			return
		}
	}
	r.checkers = append(r.checkers, checker)
}

// Unregister removes the checker named name
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = slices.DeleteFunc(r.checkers, func(c Checker) bool {
		return c.Name() == name
	})
}

// SetMetadata attaches a value reported with every check, such as the
// transport in use
func (r *Registry) SetMetadata(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[key] = value
}

// Check runs every checker concurrently. Checkers still running when ctx
// ends are reported unhealthy.
func (r *Registry) Check(ctx context.Context) OverallHealth {
	start := time.Now()

	r.mu.RLock()
	checkers := slices.Clone(r.checkers)
	metadata := maps.Clone(r.metadata)
	r.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	finished := make([]bool, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, checker := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := checker.Check(ctx)
			mu.Lock()
			defer mu.Unlock()
			results[i] = result
			finished[i] = true
		}()
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
	case <-ctx.Done():
	}

	health := OverallHealth{
		Status:   StatusHealthy,
		Checks:   make(map[string]CheckResult, len(checkers)),
		Metadata: metadata,
	}

	mu.Lock()
	for i, checker := range checkers {
		result := results[i]
		if !finished[i] {
			result = CheckResult{
				Name:      checker.Name(),
				Status:    StatusUnhealthy,
				Message:   "check timed out",
				Duration:  time.Since(start),
				Timestamp: time.Now(),
				Error:     ctx.Err().Error(),
			}
		}
		health.Checks[checker.Name()] = result
		health.Status = worse(health.Status, result.Status)
	}
	mu.Unlock()

	health.Timestamp = time.Now()
	health.Duration = time.Since(start)
	return health
}

// Handler provides HTTP endpoint for health checks
type Handler struct {
	registry *Registry
	timeout  time.Duration
}

// NewHandler creates a new health check HTTP handler
func NewHandler(registry *Registry, timeout time.Duration) *Handler {
	return &Handler{
		registry: registry,
		timeout:  timeout,
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	health := h.registry.Check(ctx)

	// Degraded still answers 200
	statusCode := http.StatusOK
	if health.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(health)
}

// LivenessHandler provides a simple liveness check
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("alive"))
	}
}
