// Package backend provides storage backend interfaces and implementations
// for the vector memory system.
package backend

import (
	"context"
	"errors"

	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// ErrMissingUserID is returned by every Backend method that requires a
// user id when none is supplied. Callers must treat this as fail-closed:
// there is no scope or session id that can stand in for it.
var ErrMissingUserID = errors.New("memory backend: user id is required")

// Backend defines the interface for vector storage backends.
//
// Every method that reads or writes entries takes (or requires, via
// SearchOptions/entry.UserID) a user id and rejects an empty one: this is
// the enforcement point for the memory store's isolation invariant. A
// session or scope id alone is never an acceptable substitute.
type Backend interface {
	// Index stores memory entries with their embeddings. Every entry must
	// carry a non-empty UserID; Index fails closed otherwise.
	Index(ctx context.Context, entries []*models.MemoryEntry) error

	// Search finds similar entries using the query embedding, scoped to
	// opts.UserID. opts.UserID must be non-empty; Search fails closed
	// otherwise.
	Search(ctx context.Context, embedding []float32, opts *SearchOptions) ([]*models.SearchResult, error)

	// Delete removes entries by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of entries matching scope/scopeID within
	// userID's data. userID must be non-empty.
	Count(ctx context.Context, userID string, scope models.MemoryScope, scopeID string) (int64, error)

	// All returns every entry belonging to userID, for maintenance passes
	// (clustering, summarization, decay) that need to enumerate a user's
	// memories rather than rank them against a query. userID must be
	// non-empty.
	All(ctx context.Context, userID string) ([]*models.MemoryEntry, error)

	// Compact optimizes the storage (vacuuming, reindexing, etc.).
	Compact(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// SearchMode specifies the search algorithm to use.
type SearchMode string

const (
	// SearchModeVector uses pure vector similarity search (default).
	SearchModeVector SearchMode = "vector"

	// SearchModeBM25 uses BM25 full-text search only.
	SearchModeBM25 SearchMode = "bm25"

	// SearchModeHybrid combines vector and BM25 search with weighted scoring.
	SearchModeHybrid SearchMode = "hybrid"
)

// SearchOptions defines options for backend search operations.
type SearchOptions struct {
	// UserID is the mandatory isolation filter. Every backend rejects a
	// search with an empty UserID rather than silently searching across
	// all users.
	UserID string

	Scope     models.MemoryScope
	ScopeID   string
	Limit     int
	Threshold float32
	Filters   map[string]any

	// SearchMode specifies the search algorithm (default: vector).
	SearchMode SearchMode

	// HybridAlpha controls the weighting in hybrid mode.
	// 0.0 = pure BM25, 1.0 = pure vector.
	// Default: 0.7 (favor vector similarity).
	HybridAlpha float32

	// Query is the raw text query (required for BM25 and hybrid modes).
	Query string
}

// Config contains common backend configuration.
type Config struct {
	Dimension int // Embedding dimension (e.g., 1536 for text-embedding-3-small)
}
