package facades

import (
	"context"
	"log/slog"

	"github.com/glimte/xmsg/contracts"
)

// SpeakRequest is the payload of a TTS_SPEAK request
type SpeakRequest struct {
	Text   string  `json:"text"`
	Lang   string  `json:"lang,omitempty"`
	Voice  string  `json:"voice,omitempty"`
	Rate   float64 `json:"rate,omitempty"`
	Pitch  float64 `json:"pitch,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

func (r SpeakRequest) validate() error {
	if err := required("text", r.Text, "text to speak cannot be empty"); err != nil {
		return err
	}
	if r.Rate != 0 && (r.Rate < 0.1 || r.Rate > 10) {
		return contracts.NewValidationError("rate", "speech rate must be between 0.1 and 10")
	}
	if r.Pitch < 0 || r.Pitch > 2 {
		return contracts.NewValidationError("pitch", "speech pitch must be between 0 and 2")
	}
	if r.Volume < 0 || r.Volume > 1 {
		return contracts.NewValidationError("volume", "speech volume must be between 0 and 1")
	}
	return nil
}

// TTSMessenger sends text-to-speech requests
type TTSMessenger struct {
	sender Sender
	logger *slog.Logger
	cfg    settings
}

// NewTTSMessenger creates a text-to-speech façade over sender
func NewTTSMessenger(sender Sender, opts ...Option) *TTSMessenger {
	cfg := newSettings(opts)
	return &TTSMessenger{sender: sender, logger: cfg.logger, cfg: cfg}
}

// Speak starts speaking req.Text. A lost reply is acknowledged after the
// messenger's speech grace period.
func (t *TTSMessenger) Speak(ctx context.Context, req SpeakRequest) (contracts.Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	t.logger.Debug("requesting speech", "lang", req.Lang, "voice", req.Voice)
	return t.sender.Send(ctx, contracts.ActionTTSSpeak, req, t.cfg.timeout)
}

// Stop interrupts any speech in progress
func (t *TTSMessenger) Stop(ctx context.Context) (contracts.Response, error) {
	return t.sender.Send(ctx, contracts.ActionTTSStop, nil, t.cfg.timeout)
}

// GetVoices lists the voices available for lang, or all voices when lang is
// empty
func (t *TTSMessenger) GetVoices(ctx context.Context, lang string) (contracts.Response, error) {
	var data any
	if lang != "" {
		data = map[string]any{"lang": lang}
	}
	return t.sender.Send(ctx, contracts.ActionTTSGetVoices, data, t.cfg.timeout)
}
