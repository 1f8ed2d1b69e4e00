package contracts

// Logical execution contexts inside the extension
const (
	ContextPopup        = "popup"
	ContextSidepanel    = "sidepanel"
	ContextOptions      = "options"
	ContextContent      = "content"
	ContextBackground   = "background"
	ContextOffscreen    = "offscreen"
	ContextEventHandler = "event-handler"
)

var knownContexts = map[string]struct{}{
	ContextPopup:        {},
	ContextSidepanel:    {},
	ContextOptions:      {},
	ContextContent:      {},
	ContextBackground:   {},
	ContextOffscreen:    {},
	ContextEventHandler: {},
}

// IsKnownContext reports whether name belongs to the documented context
// vocabulary. Unknown names are still usable.
func IsKnownContext(name string) bool {
	_, ok := knownContexts[name]
	return ok
}

// KnownContexts returns the documented context vocabulary
func KnownContexts() []string {
	return []string{
		ContextPopup,
		ContextSidepanel,
		ContextOptions,
		ContextContent,
		ContextBackground,
		ContextOffscreen,
		ContextEventHandler,
	}
}
