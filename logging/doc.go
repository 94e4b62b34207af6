// Package logging provides a minimal logging interface and adapters for taskmesh.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// the conversation loop, tool executor and providers use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - TaskLogger adding task/component attributes and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	a := agent.New("analyst", llm, func(o *agent.Options) { o.Logger = logger })
//
// Messages are event names in component.noun.verb form ("loop.round.start",
// "tool.call.executed") followed by slog-style key/value pairs.
package logging
