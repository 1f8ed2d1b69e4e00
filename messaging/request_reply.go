package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestStatus represents the lifecycle state of a request
type RequestStatus string

const (
	RequestStatusCreated  RequestStatus = "created"
	RequestStatusSent     RequestStatus = "sent"
	RequestStatusResolved RequestStatus = "resolved"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusTimedOut RequestStatus = "timed_out"
)

// IsTerminal reports whether no further transition can happen
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusResolved || s == RequestStatusRejected || s == RequestStatusTimedOut
}

// PendingRequest is the engine's record of an in-flight request
type PendingRequest struct {
	ID        string
	MessageID string
	Action    string
	Context   string
	Status    RequestStatus
	SentAt    time.Time
	Timeout   time.Duration
}

// TrackerStats summarizes tracked requests
type TrackerStats struct {
	Pending  int
	Resolved int64
	Rejected int64
	TimedOut int64
}

// RequestTracker keeps pending requests keyed by message ID
type RequestTracker interface {
	Track(request *PendingRequest) error
	UpdateStatus(messageID string, status RequestStatus) error
	Get(messageID string) (PendingRequest, error)
	Pending() []PendingRequest
	// Finish moves the request to a terminal status and forgets it. It
	// returns false when the request already finished.
	Finish(messageID string, status RequestStatus) bool
	Stats() TrackerStats
}

// InMemoryRequestTracker provides in-memory request tracking
type InMemoryRequestTracker struct {
	requests map[string]*PendingRequest
	resolved int64
	rejected int64
	timedOut int64
	mu       sync.RWMutex
}

// NewInMemoryRequestTracker creates a new in-memory request tracker
func NewInMemoryRequestTracker() *InMemoryRequestTracker {
	return &InMemoryRequestTracker{
		requests: make(map[string]*PendingRequest),
	}
}

// Track adds a request to tracking
func (t *InMemoryRequestTracker) Track(request *PendingRequest) error {
	if request == nil {
		return fmt.Errorf("request cannot be nil")
	}
	if request.MessageID == "" {
		return fmt.Errorf("message ID is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.requests[request.MessageID]; exists {
		return fmt.Errorf("message ID already in flight: %s", request.MessageID)
	}

	if request.ID == "" {
		request.ID = uuid.New().String()
	}
	if request.Status == "" {
		request.Status = RequestStatusCreated
	}

	t.requests[request.MessageID] = request
	return nil
}

// UpdateStatus updates the status of a tracked request
func (t *InMemoryRequestTracker) UpdateStatus(messageID string, status RequestStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	request, exists := t.requests[messageID]
	if !exists {
		return fmt.Errorf("request not found: %s", messageID)
	}

	request.Status = status
	return nil
}

// Get retrieves a copy of a tracked request
func (t *InMemoryRequestTracker) Get(messageID string) (PendingRequest, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	request, exists := t.requests[messageID]
	if !exists {
		return PendingRequest{}, fmt.Errorf("request not found: %s", messageID)
	}

	return *request, nil
}

// Pending returns copies of all in-flight requests
func (t *InMemoryRequestTracker) Pending() []PendingRequest {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pending := make([]PendingRequest, 0, len(t.requests))
	for _, req := range t.requests {
		pending = append(pending, *req)
	}

	return pending
}

// Finish records the terminal status and drops the request
func (t *InMemoryRequestTracker) Finish(messageID string, status RequestStatus) bool {
	if !status.IsTerminal() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.requests[messageID]; !exists {
		return false
	}
	delete(t.requests, messageID)

	switch status {
	case RequestStatusResolved:
		t.resolved++
	case RequestStatusRejected:
		t.rejected++
	case RequestStatusTimedOut:
		t.timedOut++
	}

	return true
}

// Stats returns tracker counters
func (t *InMemoryRequestTracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return TrackerStats{
		Pending:  len(t.requests),
		Resolved: t.resolved,
		Rejected: t.rejected,
		TimedOut: t.timedOut,
	}
}
