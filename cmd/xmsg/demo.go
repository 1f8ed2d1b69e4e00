package main

import (
	"context"
	"strings"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/messaging"
)

var demoProviders = []string{"echo", "upper"}

// registerDemoHandlers installs a background context that answers the way a
// browser extension's would, including the undefined replies callers must
// compensate for.
func registerDemoHandlers(router *messaging.Router, results *messaging.ResultPublisher) error {
	handlers := map[string]messaging.HandlerFunc{
		contracts.ActionPing: func(ctx context.Context, e *contracts.Envelope) (any, error) {
			return map[string]any{"success": true, "message": "pong"}, nil
		},

		// The translation goes out as a result update and the direct reply
		// stays undefined.
		contracts.ActionTranslate: func(ctx context.Context, e *contracts.Envelope) (any, error) {
			var req struct {
				Text     string `json:"text"`
				To       string `json:"to"`
				Provider string `json:"provider"`
			}
			if err := contracts.Response(asMap(e.Data)).Decode(&req); err != nil {
				return nil, contracts.NewValidationError("data", err.Error())
			}
			if strings.TrimSpace(req.Text) == "" {
				return nil, contracts.NewValidationError("text", "text is required")
			}

			translated := req.Text
			if req.Provider == "upper" {
				translated = strings.ToUpper(translated)
			}

			return nil, results.PublishResult(ctx, e, map[string]any{
				"success":        true,
				"translatedText": translated,
				"targetLanguage": req.To,
				"provider":       req.Provider,
			})
		},

		contracts.ActionGetProviders: func(ctx context.Context, e *contracts.Envelope) (any, error) {
			return map[string]any{"success": true, "providers": demoProviders}, nil
		},

		contracts.ActionTTSSpeak: func(ctx context.Context, e *contracts.Envelope) (any, error) {
			return nil, nil
		},

		contracts.ActionGetSelectState: func(ctx context.Context, e *contracts.Envelope) (any, error) {
			return map[string]any{"success": true, "active": false}, nil
		},
	}

	for action, fn := range handlers {
		if err := router.Handle(action, fn); err != nil {
			return err
		}
	}
	return nil
}

func asMap(data any) map[string]any {
	m, _ := data.(map[string]any)
	return m
}
