// Package testutil contains helper builders used across tests to reduce
// boilerplate when scripting provider turns (content deltas, fragmented tool
// call arguments, finish reasons) for model.ScriptedModel. These helpers are
// not intended for production usage.
package testutil
