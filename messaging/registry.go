package messaging

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/glimte/xmsg/contracts"
)

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMessengerOptions sets the options every messenger is created with
func WithMessengerOptions(opts ...MessengerOption) RegistryOption {
	return func(r *Registry) {
		r.messengerOpts = append(r.messengerOpts, opts...)
	}
}

// RegistryStats describes the messengers held by a registry
type RegistryStats struct {
	TotalInstances int
	Contexts       []string
	Known          int
	Unknown        int
	Pending        int
}

// Registry hands out one Messenger per context name. Every messenger shares
// the registry's transport, broadcaster and ID generator.
type Registry struct {
	transport     Transport
	broadcaster   Broadcaster
	ids           *IDGenerator
	instances     map[string]*Messenger
	messengerOpts []MessengerOption
	logger        *slog.Logger
	mu            sync.Mutex
}

// NewRegistry creates a registry over transport. The broadcaster may be nil.
func NewRegistry(transport Transport, broadcaster Broadcaster, opts ...RegistryOption) (*Registry, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}

	r := &Registry{
		transport:   transport,
		broadcaster: broadcaster,
		ids:         NewIDGenerator(),
		instances:   make(map[string]*Messenger),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// GetMessenger returns the messenger for contextName, creating it on first
// use. Unknown context names are allowed and logged.
func (r *Registry) GetMessenger(contextName string) (*Messenger, error) {
	if strings.TrimSpace(contextName) == "" {
		return nil, contracts.NewValidationError("context", "context is required and must be a non-empty string")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.instances[contextName]; ok {
		return m, nil
	}

	if !contracts.IsKnownContext(contextName) {
		r.logger.Warn("creating messenger for unknown context",
			"context", contextName,
			"known", contracts.KnownContexts(),
		)
	}

	opts := make([]MessengerOption, 0, len(r.messengerOpts)+2)
	opts = append(opts, WithIDGenerator(r.ids), WithLogger(r.logger))
	opts = append(opts, r.messengerOpts...)

	m := newMessenger(contextName, r.transport, r.broadcaster, opts...)
	r.instances[contextName] = m

	r.logger.Debug("created messenger", "context", contextName)
	return m, nil
}

// ClearInstances forgets every messenger. Requests already in flight on a
// forgotten messenger still complete.
func (r *Registry) ClearInstances() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.instances)
	r.instances = make(map[string]*Messenger)
	r.logger.Debug("cleared messenger instances", "count", n)
}

// GetActiveContexts returns the context names with a messenger, sorted
func (r *Registry) GetActiveContexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.contextsLocked()
}

// GetStatistics returns a snapshot of the registry
func (r *Registry) GetStatistics() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{
		TotalInstances: len(r.instances),
		Contexts:       r.contextsLocked(),
	}

	seen := make([]RequestTracker, 0, len(r.instances))
	for name, m := range r.instances {
		if contracts.IsKnownContext(name) {
			stats.Known++
		} else {
			stats.Unknown++
		}
		if sharedTracker(seen, m.tracker) {
			continue
		}
		seen = append(seen, m.tracker)
		stats.Pending += m.tracker.Stats().Pending
	}

	return stats
}

// sharedTracker reports whether tracker is already in seen. Trackers of a
// non-comparable type are never treated as shared.
func sharedTracker(seen []RequestTracker, tracker RequestTracker) bool {
	if !reflect.TypeOf(tracker).Comparable() {
		return false
	}
	for _, t := range seen {
		if t == tracker {
			return true
		}
	}
	return false
}

func (r *Registry) contextsLocked() []string {
	contexts := make([]string, 0, len(r.instances))
	for name := range r.instances {
		contexts = append(contexts, name)
	}
	sort.Strings(contexts)
	return contexts
}
