// Package facades provides typed wrappers around a Messenger for each
// feature area: translation, text-to-speech, screen capture and element
// selection.
//
// Façades validate their input before anything is sent and return a
// *contracts.ValidationError for caller mistakes. Timeouts, retries and
// compensation for lost replies all come from the Messenger.
//
//	popup, _ := registry.GetMessenger(contracts.ContextPopup)
//	translator := facades.NewTranslationMessenger(popup)
//	resp, err := translator.Translate(ctx, facades.TranslateRequest{
//		Text: "Hello",
//		To:   "fr",
//	})
package facades
