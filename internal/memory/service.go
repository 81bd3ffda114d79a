package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dndcreator/promethea-gateway/internal/bus"
	"github.com/dndcreator/promethea-gateway/internal/memory/backend"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// IngestQueueSize bounds the Service's ingest channel. Overflow drops the
// oldest candidate and logs; the primary turn is never affected.
const IngestQueueSize = 256

// ServiceConfig configures the Memory Service (spec.md §4.H).
type ServiceConfig struct {
	Capture AutoCaptureConfig
	Recall  AutoRecallConfig

	// MaintainInterval is the background maintenance tick period (default
	// 10 minutes, per spec.md §4.H.3). Zero disables the timer; Maintain
	// can still be called on demand.
	MaintainInterval time.Duration
}

// Service is the Memory Service: write-behind ingest of completed turns,
// cross-session recall scoped to user_id, and a periodic maintenance tick
// (cluster/summarize/decay). It satisfies internal/turn.MemoryRecaller.
type Service struct {
	store GraphStore
	bus   *bus.Bus
	log   *slog.Logger
	cfg   ServiceConfig

	ingestCh chan *models.MemoryCandidate
	dropped  atomic.Int64
}

// NewService constructs a Service backed by store. The background ingest
// worker is not started until Run is called.
func NewService(store GraphStore, eventBus *bus.Bus, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Capture = cfg.Capture.withDefaults()
	cfg.Recall = cfg.Recall.withDefaults()
	if cfg.MaintainInterval == 0 {
		cfg.MaintainInterval = 10 * time.Minute
	}
	return &Service{
		store:    store,
		bus:      eventBus,
		log:      logger,
		cfg:      cfg,
		ingestCh: make(chan *models.MemoryCandidate, IngestQueueSize),
	}
}

// Run drains the ingest queue and ticks maintenance until ctx is
// cancelled. Call it once from the runtime's root goroutine.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MaintainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case candidate := <-s.ingestCh:
			s.process(ctx, candidate)
		case <-ticker.C:
			if err := s.Maintain(ctx, nil); err != nil {
				s.log.Warn("scheduled maintenance failed", "error", err)
			}
		}
	}
}

// Ingest enqueues candidate for asynchronous processing. It never blocks
// the calling turn: on a full queue, the oldest pending candidate is
// dropped in favor of this one, and the drop is logged.
func (s *Service) Ingest(candidate *models.MemoryCandidate) {
	if candidate == nil || candidate.UserID == "" {
		return
	}
	select {
	case s.ingestCh <- candidate:
		return
	default:
	}

	select {
	case <-s.ingestCh:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ingestCh <- candidate:
	default:
		s.dropped.Add(1)
	}
	s.log.Warn("memory ingest queue full; dropped oldest candidate",
		"user_id", candidate.UserID, "session_id", candidate.SessionID)
}

// DroppedCount returns the number of ingest candidates dropped to
// overflow across this Service's lifetime.
func (s *Service) DroppedCount() int64 {
	return s.dropped.Load()
}

// process extracts salient facts from one turn and writes them to the
// graph store. Failure is logged only — ingest failure is never surfaced
// to the user (spec.md §4.H.1).
func (s *Service) process(ctx context.Context, candidate *models.MemoryCandidate) {
	captured := 0
	for _, text := range []string{candidate.UserText, candidate.AssistantText} {
		if captured >= s.cfg.Capture.MaxCapturesPerConversation {
			return
		}
		text = strings.TrimSpace(text)
		if text == "" || !shouldCapture(text, s.cfg.Capture) {
			continue
		}
		if s.isSemanticDuplicate(ctx, candidate.UserID, text) {
			continue
		}

		fact := &models.Fact{
			UserID:    candidate.UserID,
			Content:   truncate(text, s.cfg.Capture.MaxContentLength),
			Source:    "conversation",
			Tags:      []string{string(detectCategory(text))},
			CreatedAt: candidate.Timestamp,
		}
		if fact.CreatedAt.IsZero() {
			fact.CreatedAt = time.Now()
		}

		if err := s.store.UpsertFact(ctx, candidate.UserID, fact); err != nil {
			s.log.Warn("memory ingest failed", "user_id", candidate.UserID, "error", err)
			continue
		}
		captured++
		s.emit(models.EventMemorySaved, candidate.SessionID, map[string]string{
			"user_id": candidate.UserID,
			"fact_id": fact.ID,
		})
	}
}

// isSemanticDuplicate runs the store-side half of ingest's two-stage
// dedup: a near-identical fact already on file skips re-ingestion even
// when its exact text differs.
func (s *Service) isSemanticDuplicate(ctx context.Context, userID, text string) bool {
	snippets, err := s.store.Search(ctx, userID, text, 1)
	if err != nil || len(snippets) == 0 {
		return false
	}
	return snippets[0].Score >= float64(s.cfg.Capture.DuplicateThreshold)
}

// Recall returns a textual recall block for queryText, scoped to userID,
// or "" if gating decides recall adds no value. It satisfies
// internal/turn.MemoryRecaller.
func (s *Service) Recall(ctx context.Context, userID, queryText string) (string, error) {
	if userID == "" {
		return "", backend.ErrMissingUserID
	}
	if !shouldRecall(queryText, s.cfg.Recall) {
		return "", nil
	}

	snippets, err := s.store.Search(ctx, userID, queryText, s.cfg.Recall.MaxResults)
	if err != nil {
		return "", fmt.Errorf("recall search: %w", err)
	}

	var kept []*models.Snippet
	for _, snip := range snippets {
		if snip.Score >= float64(s.cfg.Recall.MinScore) {
			kept = append(kept, snip)
		}
	}
	if len(kept) == 0 {
		return "", nil
	}

	s.emit(models.EventMemoryRecalled, "", map[string]any{"user_id": userID, "count": len(kept)})
	return renderRecallBlock(kept), nil
}

// renderRecallBlock groups snippets by layer and renders the textual
// block F's prompt assembly splices into the system prompt. Its internal
// structure is opaque to the caller, so the exact wording may change
// freely; the <relevant-memories> wrapper is load-bearing, though —
// shouldCapture skips content carrying it, to avoid recall recursing
// back into ingest.
func renderRecallBlock(snippets []*models.Snippet) string {
	order := []string{"summary", "concept", "direct", "related", "recent"}
	byLayer := make(map[string][]*models.Snippet, len(order))
	for _, snip := range snippets {
		layer := snip.Layer
		if layer == "" {
			layer = "direct"
		}
		byLayer[layer] = append(byLayer[layer], snip)
	}

	var b strings.Builder
	b.WriteString("<relevant-memories>\n")
	for _, layer := range order {
		items := byLayer[layer]
		if len(items) == 0 {
			continue
		}
		for _, item := range items {
			fmt.Fprintf(&b, "- (%s) %s\n", layer, item.Text)
		}
	}
	b.WriteString("</relevant-memories>")
	return b.String()
}

// Maintain runs cluster, summarize, and decay in order, for userID if
// given or for every user with at least one fact on record otherwise.
// Each pass is idempotent and bounded; a second call with no intervening
// writes is observationally equivalent to the first.
func (s *Service) Maintain(ctx context.Context, userID *string) error {
	lister, ok := s.store.(interface {
		UserIDs(ctx context.Context) ([]string, error)
	})

	var userIDs []string
	if userID != nil && *userID != "" {
		userIDs = []string{*userID}
	} else if ok {
		ids, err := lister.UserIDs(ctx)
		if err != nil {
			return fmt.Errorf("list users for maintenance: %w", err)
		}
		userIDs = ids
	}

	var clustersFormed, summariesWritten int
	for _, uid := range userIDs {
		clusterResult, err := s.store.Cluster(ctx, uid, ClusterParams{})
		if err != nil {
			s.log.Warn("cluster pass failed", "user_id", uid, "error", err)
			continue
		}
		clustersFormed += clusterResult.ClustersFormed

		summaryResult, err := s.store.Summarize(ctx, uid, SummarizeParams{})
		if err != nil {
			s.log.Warn("summarize pass failed", "user_id", uid, "error", err)
			continue
		}
		summariesWritten += summaryResult.SummariesWritten

		if _, err := s.store.Decay(ctx, uid, DecayParams{}); err != nil {
			s.log.Warn("decay pass failed", "user_id", uid, "error", err)
		}
	}

	s.emit(models.EventMemoryClusterDone, "", map[string]any{"users": len(userIDs), "clusters_formed": clustersFormed})
	s.emit(models.EventMemorySummaryDone, "", map[string]any{"users": len(userIDs), "summaries_written": summariesWritten})
	return nil
}

func (s *Service) emit(eventType models.EventType, correlationID string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(eventType, payload, correlationID)
}
