// Package reliability classifies transport failures and retries the ones
// that are worth retrying.
//
// The classifier maps raw platform errors (sentinels from the transports or
// the error strings browsers produce) onto a small set of ErrorType values.
// The messaging engine uses it to tell "the extension context is gone" apart
// from ordinary transport failures, and to decide which failures a retry
// policy may touch.
//
// Example usage:
//
//	policy := reliability.NewFixedDelay(200*time.Millisecond, 3)
//	err := reliability.Retry(ctx, policy, func() error {
//	    return send()
//	})
package reliability
