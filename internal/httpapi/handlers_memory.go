package httpapi

import (
	"net/http"

	"github.com/dndcreator/promethea-gateway/internal/apperr"
	"github.com/dndcreator/promethea-gateway/internal/auth"
	"github.com/dndcreator/promethea-gateway/internal/memory"
)

type graphNode struct {
	FactID    string `json:"fact_id"`
	Content   string `json:"content"`
	ClusterID string `json:"cluster_id,omitempty"`
}

type graphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// handleMemoryGraph builds a {nodes, edges, stats} view of the caller's
// memory graph, grounded on the facts bookkeeping table rather than the
// GraphStore interface (which is deliberately scoped to its five ops).
// {sid} authenticates ownership: memory itself is scoped by user_id, not
// session, so a caller may only view their own graph through a session
// they own.
func (s *Server) handleMemoryGraph(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return
	}
	sessionID := r.PathValue("sid")
	if _, err := s.deps.Store.GetSession(r.Context(), user.ID, sessionID); err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Graph == nil {
		writeError(w, apperr.New(apperr.Internal, "memory graph store unavailable"))
		return
	}

	facts, err := s.deps.Graph.Facts(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	nodes := make([]graphNode, 0, len(facts))
	byCluster := map[string][]string{}
	for _, f := range facts {
		nodes = append(nodes, graphNode{FactID: f.ID, Content: f.Content, ClusterID: f.ClusterID})
		if f.ClusterID != "" {
			byCluster[f.ClusterID] = append(byCluster[f.ClusterID], f.ID)
		}
	}

	var edges []graphEdge
	clusters := 0
	for _, members := range byCluster {
		if len(members) < 2 {
			continue
		}
		clusters++
		for i := 1; i < len(members); i++ {
			edges = append(edges, graphEdge{Source: members[0], Target: members[i], Reason: "cluster"})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"edges": edges,
		"stats": map[string]int{
			"fact_count":    len(facts),
			"cluster_count": clusters,
		},
	})
}

// handleMemoryMaintain triggers one maintenance operation for the caller's
// own memory, scoped by the session named in {sid} the same way
// handleMemoryGraph is.
func (s *Server) handleMemoryMaintain(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return
	}
	sessionID := r.PathValue("sid")
	if _, err := s.deps.Store.GetSession(r.Context(), user.ID, sessionID); err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Graph == nil || s.deps.Memory == nil {
		writeError(w, apperr.New(apperr.Internal, "memory service unavailable"))
		return
	}

	op := r.PathValue("op")
	ctx := r.Context()
	var result any
	var err error
	switch op {
	case "cluster":
		result, err = s.deps.Graph.Cluster(ctx, user.ID, memory.ClusterParams{})
	case "summarize":
		result, err = s.deps.Graph.Summarize(ctx, user.ID, memory.SummarizeParams{})
	case "decay":
		result, err = s.deps.Graph.Decay(ctx, user.ID, memory.DecayParams{})
	case "cleanup":
		err = s.deps.Memory.Maintain(ctx, &user.ID)
		result = map[string]bool{"ok": true}
	default:
		writeError(w, apperr.New(apperr.InvalidArguments, "op must be one of cluster, summarize, decay, cleanup"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"op": op, "result": result})
}
