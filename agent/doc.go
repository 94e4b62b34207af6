// Package agent binds a model, a tool set and an identity into an Agent that
// runs tasks through the conversation loop of package flow.
//
// Every Agent.Run builds a fresh flow.Loop, so one Agent may serve many tasks
// concurrently; only the tool registry and the memory gateway are shared.
// RunSequential and RunParallel dispatch several (agent, task) jobs.
package agent
