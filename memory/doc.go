// Package memory contains concrete core.MemoryGateway implementations. The
// gateway interface and MemoryItem type reside in the core package; select an
// implementation (the in-memory store below, or memory/sqlite) at wiring
// time.
//
// Recall is keyword based: a query is reduced to lower-case terms and each
// stored memory is scored by the fraction of terms it contains. No
// embeddings or similarity search are involved.
package memory
