// Package core defines the domain types shared by every taskmesh package:
// tasks with their expected-output schema, conversation messages and the
// history that orders them, streamed tool calls with their lifecycle states,
// tool results, the memory gateway contract and the typed errors the
// conversation loop returns.
//
// The package has no knowledge of providers or transports. Packages such as
// model, stream, output, tool and flow build on these types; core never
// imports them back.
//
// Invariants enforced here:
//   - A tool call's argument buffer only grows until it is marked complete
//   - A tool call is executed at most once
//   - A task's retry count never exceeds its MaxRetries
//   - An assistant message carrying tool calls is followed, before the next
//     assistant message, by exactly one tool result per call in index order
package core
