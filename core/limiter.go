package core

import (
	"sync"
)

// RoundLimiter enforces the maximum number of tool-call rounds of one attempt.
type RoundLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewRoundLimiter creates a limiter allowing max rounds. A max of zero allows
// none.
func NewRoundLimiter(max int) *RoundLimiter {
	return &RoundLimiter{max: max}
}

// Increment counts a round and returns a *ToolRoundLimitError once the limit
// is exceeded.
func (rl *RoundLimiter) Increment() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.count++
	if rl.count > rl.max {
		return &ToolRoundLimitError{Limit: rl.max}
	}

	return nil
}

// Count returns the number of rounds counted so far.
func (rl *RoundLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.count
}

// Remaining returns how many rounds are left before hitting the limit.
func (rl *RoundLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.count >= rl.max {
		return 0
	}

	return rl.max - rl.count
}

// Reset clears the counter for a new attempt.
func (rl *RoundLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.count = 0
}
