package core

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a random identifier for tasks and synthesized tool call ids.
func NewID() string { return uuid.NewString() }

// TokenUsage counts tokens reported by the provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates o into u.
func (u *TokenUsage) Add(o TokenUsage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// Result is the successful outcome of a task.
type Result struct {
	TaskID       string
	FinalContent string
	Format       OutputFormat
	ToolCallLog  []ToolCallRecord
	// RetryCountUsed is the number of corrective retries consumed.
	RetryCountUsed int
	Attempts       int
	ToolRounds     int
	Usage          TokenUsage
	Duration       time.Duration
}

// ToolsUsed returns the distinct tool names in call order.
func (r *Result) ToolsUsed() []string {
	seen := map[string]struct{}{}

	var names []string

	for _, rec := range r.ToolCallLog {
		if _, ok := seen[rec.Name]; ok {
			continue
		}

		seen[rec.Name] = struct{}{}
		names = append(names, rec.Name)
	}

	return names
}
