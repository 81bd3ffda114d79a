package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go driver backing the graph store's fact table

	"github.com/dndcreator/promethea-gateway/internal/memory/backend"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// GraphStore is the five-operation contract the core depends on,
// regardless of backing store: any implementation satisfying it can be
// substituted behind the Service.
type GraphStore interface {
	UpsertFact(ctx context.Context, userID string, fact *models.Fact) error
	Search(ctx context.Context, userID, query string, k int) ([]*models.Snippet, error)
	Cluster(ctx context.Context, userID string, params ClusterParams) (*ClusterResult, error)
	Summarize(ctx context.Context, userID string, params SummarizeParams) (*SummarizeResult, error)
	Decay(ctx context.Context, userID string, params DecayParams) (*DecayResult, error)
}

// ClusterParams bounds one cluster pass.
type ClusterParams struct {
	// Threshold is the cosine-similarity cutoff above which two facts join
	// a cluster (default 0.82).
	Threshold float32
	// MaxFacts bounds how many ungrouped facts are examined in one pass.
	MaxFacts int
}

// ClusterResult reports the outcome of one cluster pass.
type ClusterResult struct {
	FactsExamined  int
	ClustersFormed int
}

// SummarizeParams bounds one summarize pass.
type SummarizeParams struct {
	// MinClusterSize is the smallest cluster that earns a summary (default 3).
	MinClusterSize int
	// MaxSummaries bounds how many new summaries one pass writes.
	MaxSummaries int
}

// SummarizeResult reports the outcome of one summarize pass.
type SummarizeResult struct {
	ClustersConsidered int
	SummariesWritten   int
}

// DecayParams bounds one decay pass.
type DecayParams struct {
	// HalfLife is the age at which a fact's decay score reaches 0.5
	// (default 30 days).
	HalfLife time.Duration
	// ForgetThreshold is the decay score below which a fact is forgotten
	// (default 0.05).
	ForgetThreshold float32
}

// DecayResult reports the outcome of one decay pass.
type DecayResult struct {
	Evaluated int
	Forgotten int
}

// SQLiteGraphStore is the in-process stand-in for the Neo4j-backed graph
// store named by §6.2's MEMORY__NEO4J__* environment variables. It keeps
// fact bookkeeping (cluster assignment, summaries, decay score) in a
// modernc.org/sqlite table and delegates embedding generation and
// similarity search to the wrapped Manager, so the same sqlitevec/
// pgvector/lancedb backend choice also powers graph-store search.
//
// A MEMORY__NEO4J__ENABLED=true config path documents the real driver
// seam (github.com/neo4j/neo4j-go-driver/v5) without requiring it to
// build; see DESIGN.md.
type SQLiteGraphStore struct {
	db      *sql.DB
	manager *Manager
}

// NewSQLiteGraphStore opens (or creates) the fact bookkeeping database at
// path and wraps manager for embedding search. manager must not be nil.
func NewSQLiteGraphStore(path string, manager *Manager) (*SQLiteGraphStore, error) {
	if manager == nil {
		return nil, fmt.Errorf("graph store requires a memory manager")
	}
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open graph store db: %w", err)
	}
	g := &SQLiteGraphStore{db: db, manager: manager}
	if err := g.init(); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

func (g *SQLiteGraphStore) init() error {
	_, err := g.db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			source TEXT,
			tags TEXT,
			cluster_id TEXT,
			decay_score REAL NOT NULL DEFAULT 1.0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create facts table: %w", err)
	}
	if _, err := g.db.Exec(`CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user_id)`); err != nil {
		return fmt.Errorf("create facts user index: %w", err)
	}
	if _, err := g.db.Exec(`CREATE INDEX IF NOT EXISTS idx_facts_hash ON facts(user_id, content_hash)`); err != nil {
		return fmt.Errorf("create facts hash index: %w", err)
	}
	_, err = g.db.Exec(`
		CREATE TABLE IF NOT EXISTS summaries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			cluster_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create summaries table: %w", err)
	}
	return nil
}

// contentHash fingerprints fact content for the cheap half of ingest's
// two-stage dedup (content-level hash, then store-side semantic check).
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(strings.ToLower(content))))
	return hex.EncodeToString(sum[:])
}

// UpsertFact writes fact scoped to userID, skipping a content-hash exact
// duplicate, and indexes it into the manager so Search can find it.
func (g *SQLiteGraphStore) UpsertFact(ctx context.Context, userID string, fact *models.Fact) error {
	if userID == "" {
		return backend.ErrMissingUserID
	}
	if fact == nil || strings.TrimSpace(fact.Content) == "" {
		return fmt.Errorf("fact content is required")
	}

	hash := contentHash(fact.Content)
	var existing string
	err := g.db.QueryRowContext(ctx,
		`SELECT id FROM facts WHERE user_id = ? AND content_hash = ?`, userID, hash,
	).Scan(&existing)
	if err == nil {
		return nil // exact duplicate, skip
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check duplicate fact: %w", err)
	}

	if fact.ID == "" {
		fact.ID = uuid.New().String()
	}
	fact.UserID = userID
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO facts (id, user_id, content, content_hash, source, tags, decay_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1.0, ?, ?)
	`, fact.ID, userID, fact.Content, hash, fact.Source, strings.Join(fact.Tags, ","), fact.CreatedAt, time.Now())
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}

	return g.manager.Index(ctx, []*models.MemoryEntry{{
		ID:      fact.ID,
		UserID:  userID,
		Content: fact.Content,
		Metadata: models.MemoryMetadata{
			Source: fact.Source,
			Tags:   fact.Tags,
		},
	}})
}

// Search returns the top k snippets for query, scoped to userID.
func (g *SQLiteGraphStore) Search(ctx context.Context, userID, query string, k int) ([]*models.Snippet, error) {
	if userID == "" {
		return nil, backend.ErrMissingUserID
	}
	if k <= 0 {
		k = 10
	}

	resp, err := g.manager.Search(ctx, &models.SearchRequest{
		UserID: userID,
		Query:  query,
		Scope:  models.ScopeAll,
		Limit:  k,
	})
	if err != nil {
		return nil, fmt.Errorf("graph store search: %w", err)
	}

	snippets := make([]*models.Snippet, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res == nil || res.Entry == nil {
			continue
		}
		snippets = append(snippets, &models.Snippet{
			FactID: res.Entry.ID,
			Text:   res.Entry.Content,
			Score:  float64(res.Score),
			Layer:  "direct",
		})
	}
	return snippets, nil
}

// Cluster groups previously unclustered facts by cosine similarity of
// their embeddings (greedy single-link over the manager's backend, which
// already holds each fact's vector). Idempotent: re-running with no new
// facts forms no new clusters, since every fact already carries a
// cluster_id.
func (g *SQLiteGraphStore) Cluster(ctx context.Context, userID string, params ClusterParams) (*ClusterResult, error) {
	if userID == "" {
		return nil, backend.ErrMissingUserID
	}
	if params.Threshold <= 0 {
		params.Threshold = 0.82
	}
	if params.MaxFacts <= 0 {
		params.MaxFacts = 500
	}

	rows, err := g.db.QueryContext(ctx,
		`SELECT id FROM facts WHERE user_id = ? AND (cluster_id IS NULL OR cluster_id = '') LIMIT ?`,
		userID, params.MaxFacts)
	if err != nil {
		return nil, fmt.Errorf("query unclustered facts: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	result := &ClusterResult{FactsExamined: len(ids)}
	if len(ids) == 0 {
		return result, nil
	}

	entries, err := g.manager.All(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load entries for clustering: %w", err)
	}
	byID := make(map[string]*models.MemoryEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	assigned := make(map[string]bool, len(ids))
	clusters := 0
	for _, seedID := range ids {
		if assigned[seedID] {
			continue
		}
		seed, ok := byID[seedID]
		if !ok || len(seed.Embedding) == 0 {
			continue
		}
		clusterID := uuid.New().String()
		members := []string{seedID}
		assigned[seedID] = true
		for _, candID := range ids {
			if assigned[candID] {
				continue
			}
			cand, ok := byID[candID]
			if !ok || len(cand.Embedding) == 0 {
				continue
			}
			if cosine(seed.Embedding, cand.Embedding) >= params.Threshold {
				members = append(members, candID)
				assigned[candID] = true
			}
		}
		if len(members) < 2 {
			// A cluster of one is still marked, so it's not re-examined
			// every pass, but it never earns a summary (see Summarize).
			members = members[:1]
		}
		if err := g.assignCluster(ctx, members, clusterID); err != nil {
			return nil, err
		}
		clusters++
	}

	result.ClustersFormed = clusters
	return result, nil
}

func (g *SQLiteGraphStore) assignCluster(ctx context.Context, factIDs []string, clusterID string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE facts SET cluster_id = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	now := time.Now()
	for _, id := range factIDs {
		if _, err := stmt.ExecContext(ctx, clusterID, now, id); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Summarize writes one summary fact per cluster that has reached
// MinClusterSize members and has no summary yet.
func (g *SQLiteGraphStore) Summarize(ctx context.Context, userID string, params SummarizeParams) (*SummarizeResult, error) {
	if userID == "" {
		return nil, backend.ErrMissingUserID
	}
	if params.MinClusterSize <= 0 {
		params.MinClusterSize = 3
	}
	if params.MaxSummaries <= 0 {
		params.MaxSummaries = 20
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT cluster_id, COUNT(*) as n
		FROM facts
		WHERE user_id = ? AND cluster_id IS NOT NULL AND cluster_id != ''
		GROUP BY cluster_id
		HAVING n >= ?
	`, userID, params.MinClusterSize)
	if err != nil {
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	type clusterInfo struct {
		id    string
		count int
	}
	var clusters []clusterInfo
	for rows.Next() {
		var ci clusterInfo
		if err := rows.Scan(&ci.id, &ci.count); err != nil {
			rows.Close()
			return nil, err
		}
		clusters = append(clusters, ci)
	}
	rows.Close()

	result := &SummarizeResult{ClustersConsidered: len(clusters)}
	written := 0
	for _, ci := range clusters {
		if written >= params.MaxSummaries {
			break
		}
		var exists int
		if err := g.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM summaries WHERE user_id = ? AND cluster_id = ?`, userID, ci.id,
		).Scan(&exists); err != nil {
			return nil, err
		}
		if exists > 0 {
			continue
		}

		contentRows, err := g.db.QueryContext(ctx,
			`SELECT content FROM facts WHERE user_id = ? AND cluster_id = ? ORDER BY created_at DESC LIMIT 5`,
			userID, ci.id)
		if err != nil {
			return nil, err
		}
		var parts []string
		for contentRows.Next() {
			var c string
			if err := contentRows.Scan(&c); err != nil {
				contentRows.Close()
				return nil, err
			}
			parts = append(parts, c)
		}
		contentRows.Close()
		if len(parts) == 0 {
			continue
		}

		summary := "Recurring theme: " + strings.Join(parts, "; ")
		if _, err := g.db.ExecContext(ctx,
			`INSERT INTO summaries (id, user_id, cluster_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), userID, ci.id, summary, time.Now(),
		); err != nil {
			return nil, fmt.Errorf("insert summary: %w", err)
		}
		written++
	}

	result.SummariesWritten = written
	return result, nil
}

// Decay lowers each fact's decay score by age and forgets (deletes) those
// that fall below ForgetThreshold. Idempotent: a fact already forgotten
// is gone, so a second invocation with no intervening writes touches
// nothing new.
func (g *SQLiteGraphStore) Decay(ctx context.Context, userID string, params DecayParams) (*DecayResult, error) {
	if userID == "" {
		return nil, backend.ErrMissingUserID
	}
	if params.HalfLife <= 0 {
		params.HalfLife = 30 * 24 * time.Hour
	}
	if params.ForgetThreshold <= 0 {
		params.ForgetThreshold = 0.05
	}

	rows, err := g.db.QueryContext(ctx,
		`SELECT id, created_at FROM facts WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query facts for decay: %w", err)
	}
	type row struct {
		id  string
		age time.Duration
	}
	var all []row
	now := time.Now()
	for rows.Next() {
		var id string
		var createdAt time.Time
		if err := rows.Scan(&id, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		all = append(all, row{id: id, age: now.Sub(createdAt)})
	}
	rows.Close()

	result := &DecayResult{Evaluated: len(all)}
	var forgottenIDs []string
	for _, r := range all {
		score := float32(math.Exp(-float64(r.age) / float64(params.HalfLife) * math.Ln2))
		if score < params.ForgetThreshold {
			forgottenIDs = append(forgottenIDs, r.id)
			continue
		}
		if _, err := g.db.ExecContext(ctx,
			`UPDATE facts SET decay_score = ?, updated_at = ? WHERE id = ?`, score, now, r.id,
		); err != nil {
			return nil, fmt.Errorf("update decay score: %w", err)
		}
	}

	if len(forgottenIDs) > 0 {
		if err := g.manager.Delete(ctx, forgottenIDs); err != nil {
			return nil, fmt.Errorf("delete decayed entries: %w", err)
		}
		placeholders := make([]string, len(forgottenIDs))
		args := make([]any, len(forgottenIDs)+1)
		args[0] = userID
		for i, id := range forgottenIDs {
			placeholders[i] = "?"
			args[i+1] = id
		}
		q := fmt.Sprintf(`DELETE FROM facts WHERE user_id = ? AND id IN (%s)`, strings.Join(placeholders, ","))
		if _, err := g.db.ExecContext(ctx, q, args...); err != nil {
			return nil, fmt.Errorf("delete decayed facts: %w", err)
		}
	}

	result.Forgotten = len(forgottenIDs)
	return result, nil
}

// UserIDs lists every user with at least one fact on record, so Maintain
// can sweep every user when invoked with no specific user_id.
func (g *SQLiteGraphStore) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM facts`)
	if err != nil {
		return nil, fmt.Errorf("query user ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Facts lists every fact on record for userID, including its cluster
// assignment, for the HTTP layer's graph-view diagnostic endpoint. It sits
// outside the GraphStore interface deliberately: nothing in the five-op
// contract needs a full listing, only the introspection handler does.
func (g *SQLiteGraphStore) Facts(ctx context.Context, userID string) ([]*models.Fact, error) {
	if userID == "" {
		return nil, backend.ErrMissingUserID
	}
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, user_id, content, source, tags, cluster_id, created_at
		FROM facts
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []*models.Fact
	for rows.Next() {
		var f models.Fact
		var tags, clusterID sql.NullString
		if err := rows.Scan(&f.ID, &f.UserID, &f.Content, &f.Source, &tags, &clusterID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		if tags.Valid && tags.String != "" {
			f.Tags = strings.Split(tags.String, ",")
		}
		if clusterID.Valid {
			f.ClusterID = clusterID.String
		}
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}

// Close releases the graph store's database handle.
func (g *SQLiteGraphStore) Close() error {
	return g.db.Close()
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
