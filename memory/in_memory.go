package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// DefaultLimit bounds the memories returned by one Retrieve call.
const DefaultLimit = 10

// InMemoryStore is a naive process-local MemoryGateway. Memories are kept
// per user in insertion order; Retrieve scans them linearly and ranks by
// keyword overlap, newest first among equal scores.
//
// Concurrency: protected by RWMutex. Suitable for tests, demos and
// single-process agents; use memory/sqlite for persistence.
type InMemoryStore struct {
	mu      sync.RWMutex
	limit   int
	seq     int
	storage map[string][]core.MemoryItem // userID -> memories (oldest first)
}

// InMemoryOptions configures an InMemoryStore.
type InMemoryOptions struct {
	// Limit caps Retrieve results (default DefaultLimit).
	Limit int
}

// NewInMemoryStore creates a new in-memory memory store.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	opts := InMemoryOptions{Limit: DefaultLimit}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &InMemoryStore{
		limit:   opts.Limit,
		storage: make(map[string][]core.MemoryItem),
	}
}

// Retrieve returns the user's memories matching query, best first. hint is
// ignored.
func (m *InMemoryStore) Retrieve(ctx context.Context, query, userID, _ string) ([]core.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	stored := m.storage[userID]
	candidates := make([]core.MemoryItem, len(stored))
	// newest first so ties rank recent memories higher
	for i, it := range stored {
		candidates[len(stored)-1-i] = copyItem(it)
	}
	m.mu.RUnlock()

	return Rank(candidates, query, m.limit), nil
}

// Store appends a memory for userID with an incremental id.
func (m *InMemoryStore) Store(ctx context.Context, content string, typ core.MemoryType, userID string, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.storage[userID] = append(m.storage[userID], copyItem(core.MemoryItem{
		ID:       fmt.Sprintf("mem_%d", m.seq),
		Content:  content,
		Type:     typ,
		Metadata: metadata,
	}))

	return nil
}

// List returns all memories of userID, oldest first.
func (m *InMemoryStore) List(userID string) []core.MemoryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.MemoryItem, len(m.storage[userID]))
	for i, it := range m.storage[userID] {
		out[i] = copyItem(it)
	}

	return out
}

// Delete removes a stored memory by id.
func (m *InMemoryStore) Delete(userID, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.storage[userID]
	for i, it := range items {
		if it.ID == memoryID {
			m.storage[userID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("memory %q not found", memoryID)
}

func copyItem(it core.MemoryItem) core.MemoryItem {
	if it.Metadata != nil {
		md := make(map[string]any, len(it.Metadata))
		for k, v := range it.Metadata {
			md[k] = v
		}

		it.Metadata = md
	}

	return it
}
