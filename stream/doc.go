// Package stream turns a provider's chunk stream into a complete turn.
//
// Consumer drains one round trip, forwarding content deltas to a Sink as
// they arrive. Accumulator assembles tool calls from fragments keyed by
// index and decides argument completeness with a single validating JSON
// pass. Malformed streams surface as *core.StreamProtocolError and transport
// failures as *core.TransportError.
package stream
