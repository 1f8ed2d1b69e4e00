package facades

import (
	"context"
	"fmt"

	"github.com/glimte/xmsg/contracts"
)

// SelectionState reports whether element selection mode is on
type SelectionState struct {
	Active bool   `json:"active"`
	Mode   string `json:"mode,omitempty"`
}

// SelectionMessenger toggles element selection mode in the content script
type SelectionMessenger struct {
	sender Sender
	cfg    settings
}

// NewSelectionMessenger creates a selection mode façade over sender
func NewSelectionMessenger(sender Sender, opts ...Option) *SelectionMessenger {
	return &SelectionMessenger{sender: sender, cfg: newSettings(opts)}
}

// Activate turns selection mode on. mode is passed through to the page.
func (s *SelectionMessenger) Activate(ctx context.Context, mode string) (contracts.Response, error) {
	var data any
	if mode != "" {
		data = map[string]any{"mode": mode}
	}
	return s.sender.Send(ctx, contracts.ActionActivateSelectMode, data, s.cfg.timeout)
}

// Deactivate turns selection mode off
func (s *SelectionMessenger) Deactivate(ctx context.Context) (contracts.Response, error) {
	return s.sender.Send(ctx, contracts.ActionDeactivateSelectMode, nil, s.cfg.timeout)
}

// GetState asks the content script whether selection mode is on. A graceful
// failure reads as inactive.
func (s *SelectionMessenger) GetState(ctx context.Context) (SelectionState, error) {
	resp, err := s.sender.Send(ctx, contracts.ActionGetSelectState, nil, s.cfg.timeout)
	if err != nil {
		return SelectionState{}, err
	}
	if resp.IsGracefulFailure() || resp.IsCompensated() {
		return SelectionState{}, nil
	}
	if detail, failed := resp.Error(); failed {
		return SelectionState{}, fmt.Errorf("get selection state: %s", detail.Message)
	}

	var state SelectionState
	if err := resp.Decode(&state); err != nil {
		return SelectionState{}, fmt.Errorf("failed to decode selection state: %w", err)
	}
	return state, nil
}
