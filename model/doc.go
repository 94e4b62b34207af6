// Package model defines the provider boundary of taskmesh: the streamed
// Chunk protocol every provider adapter emits, the normalized Request built
// from conversation history, and a ScriptedModel replaying canned turns for
// tests and examples.
//
// Adapters (openai, anthropic) forward raw deltas only. They never assemble
// tool calls or judge completeness; that is the job of the stream package,
// which treats every provider identically.
package model
