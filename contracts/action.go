package contracts

// Action vocabulary. Senders and receivers agree on these names out of band;
// the engine itself only requires a non-empty action.
const (
	ActionPing                    = "ping"
	ActionTranslate               = "TRANSLATE"
	ActionTranslationResultUpdate = "TRANSLATION_RESULT_UPDATE"
	ActionBatchTranslate          = "BATCH_TRANSLATE"
	ActionCancelTranslation       = "CANCEL_TRANSLATION"
	ActionGetHistory              = "GET_HISTORY"
	ActionGetProviders            = "GET_PROVIDERS"
	ActionTestProvider            = "TEST_PROVIDER"
	ActionTTSSpeak                = "TTS_SPEAK"
	ActionTTSStop                 = "TTS_STOP"
	ActionTTSGetVoices            = "TTS_GET_VOICES"
	ActionScreenCapture           = "SCREEN_CAPTURE"
	ActionProcessImageOCR         = "PROCESS_IMAGE_OCR"
	ActionActivateSelectMode      = "activateSelectElementMode"
	ActionDeactivateSelectMode    = "deactivateSelectElementMode"
	ActionGetSelectState          = "getSelectElementState"
)

// Compensation describes how an empty reply is reinterpreted for an action.
// The set is closed: every action maps to exactly one variant.
type Compensation int

const (
	// CompensateBestEffort synthesizes an explicit best-effort success
	CompensateBestEffort Compensation = iota
	// CompensatePong synthesizes the deterministic ping reply
	CompensatePong
	// CompensateAwaitResult waits for an out-of-band result update broadcast
	CompensateAwaitResult
	// CompensateGrace waits a grace period, then synthesizes a success
	CompensateGrace
)

func (c Compensation) String() string {
	switch c {
	case CompensateBestEffort:
		return "best-effort"
	case CompensatePong:
		return "pong"
	case CompensateAwaitResult:
		return "await-result"
	case CompensateGrace:
		return "grace"
	default:
		return "unknown"
	}
}

// CompensationFor returns the compensation applied when action gets an
// undefined reply. Actions outside the vocabulary fall into the best-effort
// variant.
func CompensationFor(action string) Compensation {
	switch action {
	case ActionPing:
		return CompensatePong
	case ActionTranslate:
		return CompensateAwaitResult
	case ActionTTSSpeak:
		return CompensateGrace
	default:
		return CompensateBestEffort
	}
}
