// Package messaging provides reliable request/response messaging between the
// execution contexts of a browser extension.
//
// The package implements:
//   - Messenger: sends an envelope, waits for one reply and compensates for
//     replies the platform loses
//   - Registry: one Messenger per context name, sharing a transport
//   - Router: the receiving side, dispatching envelopes to action handlers
//   - ResultPublisher: broadcasts late results for long-running actions
//   - MessageFormat: envelope construction, validation and message IDs
//
// Every SendMessage call ends exactly once: with the reply, a synthesized
// response, the graceful failure response, or an error.
//
// Example usage:
//
//	registry, err := messaging.NewRegistry(transport, bus)
//	if err != nil {
//		return err
//	}
//
//	popup, _ := registry.GetMessenger(contracts.ContextPopup)
//	resp, err := popup.Send(ctx, contracts.ActionPing, nil, 0)
//	if err != nil {
//		return err
//	}
//	fmt.Println(resp.Message()) // "pong"
package messaging
