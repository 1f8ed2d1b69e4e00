package facades

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glimte/xmsg/contracts"
	"golang.org/x/sync/errgroup"
)

// TranslateRequest is the payload of a TRANSLATE request
type TranslateRequest struct {
	Text     string `json:"text"`
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Provider string `json:"provider,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

func (r TranslateRequest) validate() error {
	if err := required("text", r.Text, "text to translate cannot be empty"); err != nil {
		return err
	}
	return required("to", r.To, "target language is required")
}

// BatchTranslateRequest is the payload of a BATCH_TRANSLATE request
type BatchTranslateRequest struct {
	Texts    []string `json:"texts"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to"`
	Provider string   `json:"provider,omitempty"`
}

// TranslationMessenger sends translation requests
type TranslationMessenger struct {
	sender Sender
	logger *slog.Logger
	cfg    settings
}

// NewTranslationMessenger creates a translation façade over sender
func NewTranslationMessenger(sender Sender, opts ...Option) *TranslationMessenger {
	cfg := newSettings(opts)
	return &TranslationMessenger{
		sender: sender,
		logger: cfg.logger,
		cfg:    cfg,
	}
}

// Translate translates one text. When the reply is lost in transit the
// messenger waits for the result update broadcast instead.
func (t *TranslationMessenger) Translate(ctx context.Context, req TranslateRequest) (contracts.Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	t.logger.Debug("requesting translation",
		"to", req.To,
		"provider", req.Provider,
		"length", len(req.Text),
	)
	return t.sender.Send(ctx, contracts.ActionTranslate, req, t.cfg.timeout)
}

// BatchTranslate sends all texts in a single request
func (t *TranslationMessenger) BatchTranslate(ctx context.Context, req BatchTranslateRequest) (contracts.Response, error) {
	if len(req.Texts) == 0 {
		return nil, contracts.NewValidationError("texts", "texts to translate cannot be empty")
	}
	for i, text := range req.Texts {
		if strings.TrimSpace(text) == "" {
			return nil, contracts.NewValidationError("texts", fmt.Sprintf("text at index %d cannot be empty", i))
		}
	}
	if err := required("to", req.To, "target language is required"); err != nil {
		return nil, err
	}

	return t.sender.Send(ctx, contracts.ActionBatchTranslate, req, t.cfg.timeout)
}

// TranslateAll sends one TRANSLATE request per entry, at most limit at a
// time (limit <= 0 means no limit). Results keep the order of reqs. The
// first failure cancels the requests still waiting.
func (t *TranslationMessenger) TranslateAll(ctx context.Context, reqs []TranslateRequest, limit int) ([]contracts.Response, error) {
	for i, req := range reqs {
		if err := req.validate(); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
	}

	results := make([]contracts.Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, req := range reqs {
		g.Go(func() error {
			resp, err := t.sender.Send(gctx, contracts.ActionTranslate, req, t.cfg.timeout)
			if err != nil {
				return fmt.Errorf("translate %d: %w", i, err)
			}
			results[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CancelTranslation asks the background to stop the translation started by
// the request with messageID
func (t *TranslationMessenger) CancelTranslation(ctx context.Context, messageID string) (contracts.Response, error) {
	if err := required("messageId", messageID, "message ID of the translation is required"); err != nil {
		return nil, err
	}
	return t.sender.Send(ctx, contracts.ActionCancelTranslation, map[string]any{"messageId": messageID}, t.cfg.timeout)
}

// GetProviders lists the configured translation providers
func (t *TranslationMessenger) GetProviders(ctx context.Context) (contracts.Response, error) {
	return t.sender.Send(ctx, contracts.ActionGetProviders, nil, t.cfg.timeout)
}

// TestProvider checks that provider is reachable with the given settings
func (t *TranslationMessenger) TestProvider(ctx context.Context, provider string, config map[string]any) (contracts.Response, error) {
	if err := required("provider", provider, "provider name is required"); err != nil {
		return nil, err
	}
	return t.sender.Send(ctx, contracts.ActionTestProvider, map[string]any{
		"provider": provider,
		"config":   config,
	}, t.cfg.timeout)
}

// GetHistory returns up to limit past translations; zero means all
func (t *TranslationMessenger) GetHistory(ctx context.Context, limit int) (contracts.Response, error) {
	if limit < 0 {
		return nil, contracts.NewValidationError("limit", "history limit cannot be negative")
	}

	var data any
	if limit > 0 {
		data = map[string]any{"limit": limit}
	}
	return t.sender.Send(ctx, contracts.ActionGetHistory, data, t.cfg.timeout)
}
