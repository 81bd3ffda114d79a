package memory

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// fakeGraphStore is an in-memory GraphStore double for Service tests; it
// never touches an embedder or sqlite, keeping ingest/recall logic tests
// fast and deterministic.
type fakeGraphStore struct {
	mu    sync.Mutex
	facts map[string][]*models.Fact

	searchScore float64 // score returned for every Search hit, if any facts exist
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{facts: map[string][]*models.Fact{}, searchScore: 0}
}

func (f *fakeGraphStore) UpsertFact(_ context.Context, userID string, fact *models.Fact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fact.UserID = userID
	if fact.ID == "" {
		fact.ID = "fact-" + userID + "-" + string(rune('a'+len(f.facts[userID])))
	}
	f.facts[userID] = append(f.facts[userID], fact)
	return nil
}

func (f *fakeGraphStore) Search(_ context.Context, userID, _ string, k int) ([]*models.Snippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Snippet
	for _, fact := range f.facts[userID] {
		out = append(out, &models.Snippet{FactID: fact.ID, Text: fact.Content, Score: f.searchScore, Layer: "direct"})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (f *fakeGraphStore) Cluster(context.Context, string, ClusterParams) (*ClusterResult, error) {
	return &ClusterResult{}, nil
}
func (f *fakeGraphStore) Summarize(context.Context, string, SummarizeParams) (*SummarizeResult, error) {
	return &SummarizeResult{}, nil
}
func (f *fakeGraphStore) Decay(context.Context, string, DecayParams) (*DecayResult, error) {
	return &DecayResult{}, nil
}

func (f *fakeGraphStore) UserIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.facts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeGraphStore) factCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.facts[userID])
}

func TestService_IngestCapturesSalientText(t *testing.T) {
	store := newFakeGraphStore()
	svc := NewService(store, nil, nil, ServiceConfig{})

	svc.Ingest(&models.MemoryCandidate{
		UserID:        "u1",
		SessionID:     "s1",
		UserText:      "Please remember my email is test@example.com",
		AssistantText: "Got it, noted.",
		Timestamp:     time.Now(),
	})
	svc.process(context.Background(), <-svc.ingestCh)

	if got := store.factCount("u1"); got != 1 {
		t.Fatalf("expected 1 captured fact, got %d", got)
	}
}

func TestService_IngestSkipsEmptyUserID(t *testing.T) {
	store := newFakeGraphStore()
	svc := NewService(store, nil, nil, ServiceConfig{})

	svc.Ingest(&models.MemoryCandidate{UserText: "remember this please"})

	select {
	case <-svc.ingestCh:
		t.Fatal("candidate with empty user id should never be enqueued")
	default:
	}
}

func TestService_IngestDropsOldestOnOverflow(t *testing.T) {
	store := newFakeGraphStore()
	svc := NewService(store, nil, nil, ServiceConfig{})
	svc.ingestCh = make(chan *models.MemoryCandidate, 1)

	svc.Ingest(&models.MemoryCandidate{UserID: "u1", UserText: "first"})
	svc.Ingest(&models.MemoryCandidate{UserID: "u1", UserText: "second"})

	if svc.DroppedCount() == 0 {
		t.Error("expected a drop to be recorded on overflow")
	}
	kept := <-svc.ingestCh
	if kept.UserText != "second" {
		t.Errorf("expected newest candidate kept, got %q", kept.UserText)
	}
}

func TestService_RecallRequiresUserID(t *testing.T) {
	store := newFakeGraphStore()
	svc := NewService(store, nil, nil, ServiceConfig{})

	_, err := svc.Recall(context.Background(), "", "how old am I")
	if err == nil {
		t.Fatal("expected error for missing user id")
	}
}

func TestService_RecallGatedByHeuristic(t *testing.T) {
	store := newFakeGraphStore()
	store.UpsertFact(context.Background(), "u1", &models.Fact{Content: "the user's name is Wang Er"})
	store.searchScore = 0.9
	svc := NewService(store, nil, nil, ServiceConfig{Recall: AutoRecallConfig{MinQueryLength: 5, MinScore: 0.3}})

	block, err := svc.Recall(context.Background(), "u1", "hi")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if block != "" {
		t.Error("short query with no anaphora should skip recall entirely")
	}

	block, err = svc.Recall(context.Background(), "u1", "how old am I")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if block == "" {
		t.Fatal("expected a recall block for a query long enough to pass gating")
	}
	if want := "Wang Er"; !strings.Contains(block, want) {
		t.Errorf("recall block %q does not contain %q", block, want)
	}
}

func TestService_RecallFiltersLowScore(t *testing.T) {
	store := newFakeGraphStore()
	store.UpsertFact(context.Background(), "u1", &models.Fact{Content: "irrelevant fact"})
	store.searchScore = 0.05
	svc := NewService(store, nil, nil, ServiceConfig{Recall: AutoRecallConfig{MinQueryLength: 5, MinScore: 0.3}})

	block, err := svc.Recall(context.Background(), "u1", "tell me something relevant")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if block != "" {
		t.Error("expected low-score snippets to be filtered out entirely")
	}
}

func TestService_RecallIsolatesUsers(t *testing.T) {
	store := newFakeGraphStore()
	store.UpsertFact(context.Background(), "u1", &models.Fact{Content: "u1's secret fact"})
	store.searchScore = 0.9
	svc := NewService(store, nil, nil, ServiceConfig{Recall: AutoRecallConfig{MinQueryLength: 5, MinScore: 0.3}})

	block, err := svc.Recall(context.Background(), "u2", "tell me the secret fact")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if block != "" {
		t.Errorf("u2 must never see u1's facts, got block: %q", block)
	}
}

func TestService_MaintainRunsAllThreePassesPerUser(t *testing.T) {
	store := newFakeGraphStore()
	store.UpsertFact(context.Background(), "u1", &models.Fact{Content: "a fact"})
	svc := NewService(store, nil, nil, ServiceConfig{})

	if err := svc.Maintain(context.Background(), nil); err != nil {
		t.Fatalf("Maintain: %v", err)
	}
}

func TestService_MaintainScopedToOneUser(t *testing.T) {
	store := newFakeGraphStore()
	svc := NewService(store, nil, nil, ServiceConfig{})

	u := "u1"
	if err := svc.Maintain(context.Background(), &u); err != nil {
		t.Fatalf("Maintain: %v", err)
	}
}
