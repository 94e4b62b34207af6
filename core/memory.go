package core

import "context"

// MemoryType classifies a stored memory.
type MemoryType string

const (
	MemoryWorking    MemoryType = "working"
	MemorySemantic   MemoryType = "semantic"
	MemoryEpisodic   MemoryType = "episodic"
	MemoryProcedural MemoryType = "procedural"
)

// Label returns the display name used when rendering memory context.
func (t MemoryType) Label() string {
	switch t {
	case MemoryWorking:
		return "Working"
	case MemorySemantic:
		return "Semantic"
	case MemoryEpisodic:
		return "Episodic"
	case MemoryProcedural:
		return "Procedural"
	default:
		return "Other"
	}
}

// MemoryItem is a retrieved memory with its relevance score.
type MemoryItem struct {
	ID       string
	Content  string
	Type     MemoryType
	Score    float64
	Metadata map[string]any
}

// MemoryGateway is the persistence boundary for agent memory. Implementations
// may back recall with keywords, embeddings or any other heuristic and must
// be safe for concurrent use; a single gateway is shared by every task an
// agent runs.
type MemoryGateway interface {
	// Retrieve returns memories relevant to query for userID. hint names the
	// caller's purpose (for example "task" or "tool") and may be ignored.
	Retrieve(ctx context.Context, query, userID, hint string) ([]MemoryItem, error)
	// Store persists content for userID.
	Store(ctx context.Context, content string, typ MemoryType, userID string, metadata map[string]any) error
}
