package core

import (
	"context"
	"errors"

	"github.com/hupe1980/taskmesh/logging"
)

// ErrNoMemory is returned by ToolContext memory helpers when no gateway is configured.
var ErrNoMemory = errors.New("memory gateway not configured")

// ToolContext is the surface a tool implementation sees for one invocation:
// the invocation context (carrying its timeout), the call identity, the
// owning task and access to the agent's memory gateway.
type ToolContext struct {
	ctx    context.Context
	taskID string
	userID string
	callID string
	tool   string
	memory MemoryGateway

	*loggerAdapter
}

// ToolContextConfig carries the per-task values shared by every invocation.
type ToolContextConfig struct {
	TaskID string
	UserID string
	Memory MemoryGateway
	Logger logging.Logger
}

// NewToolContext creates the context for one invocation of call.
func NewToolContext(ctx context.Context, cfg ToolContextConfig, callID, toolName string) *ToolContext {
	return &ToolContext{
		ctx:           ctx,
		taskID:        cfg.TaskID,
		userID:        cfg.UserID,
		callID:        callID,
		tool:          toolName,
		memory:        cfg.Memory,
		loggerAdapter: newLoggerAdapter(cfg.Logger),
	}
}

// Context returns the invocation context. It is cancelled when the task is
// cancelled or the per-invocation timeout elapses.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// TaskID returns the owning task id.
func (tc *ToolContext) TaskID() string { return tc.taskID }

// UserID returns the task's user id, if any.
func (tc *ToolContext) UserID() string { return tc.userID }

// CallID returns the provider tool call id.
func (tc *ToolContext) CallID() string { return tc.callID }

// ToolName returns the name of the invoked tool.
func (tc *ToolContext) ToolName() string { return tc.tool }

// Logger returns the invocation logger.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// RecallMemory queries the memory gateway on behalf of the tool.
func (tc *ToolContext) RecallMemory(query string, limit int) ([]MemoryItem, error) {
	if tc.memory == nil {
		return nil, ErrNoMemory
	}

	items, err := tc.memory.Retrieve(tc.ctx, query, tc.userID, "tool")
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	return items, nil
}

// StoreMemory persists content through the memory gateway.
func (tc *ToolContext) StoreMemory(content string, typ MemoryType, md map[string]any) error {
	if tc.memory == nil {
		return ErrNoMemory
	}

	if md == nil {
		md = map[string]any{}
	}

	md["task_id"] = tc.taskID
	md["tool"] = tc.tool

	tc.LogDebug("tool.memory.store", "tool", tc.tool, "call_id", tc.callID, "type", string(typ))

	return tc.memory.Store(tc.ctx, content, typ, tc.userID, md)
}
