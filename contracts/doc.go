// Package contracts provides the wire types shared by every execution context
// that talks over the xmsg messaging layer.
//
// This package defines:
//   - Envelope: the request unit exchanged between contexts
//   - Response: the opaque reply payload, plus the structured failure shapes
//   - The action and context vocabularies
//   - Compensation: how an empty ("undefined") reply is reinterpreted per action
//   - ValidationError, TimeoutError and TransportError
//
// Envelopes serialize with the same JSON field names the browser side uses,
// so a Go context can sit on the same bus as the extension scripts.
package contracts
