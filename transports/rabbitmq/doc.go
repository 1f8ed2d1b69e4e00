// Package rabbitmq carries envelopes between processes through a RabbitMQ
// broker. A Server consumes a shared request queue and plays the background
// context; each Client sends requests with a private reply queue and
// receives broadcasts from a fanout exchange.
//
// A lost connection is not re-established. Clients and servers report it as
// an invalidated extension context, which callers handle gracefully.
package rabbitmq
