package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dndcreator/promethea-gateway/internal/apperr"
	"github.com/dndcreator/promethea-gateway/internal/auth"
	"github.com/dndcreator/promethea-gateway/internal/connreg"
	"github.com/dndcreator/promethea-gateway/internal/scheduler"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Stream    bool   `json:"stream"`
}

type chatConfirmRequest struct {
	SessionID string `json:"session_id"`
	CallID    string `json:"tool_call_id"`
	Action    string `json:"action"` // "approve" or "reject"
	Stream    bool   `json:"stream"`
}

// streamSink is the common surface handleChat/handleChatConfirm need from
// either sseSender or eventCollector: something connreg.Sender satisfies,
// plus a way to block until the turn reaches a terminal event.
type streamSink interface {
	connreg.Sender
	Wait() <-chan struct{}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidArguments, "invalid request body", err))
		return
	}
	if req.Message == "" {
		writeError(w, apperr.New(apperr.InvalidArguments, "message is required"))
		return
	}

	if req.SessionID == "" {
		session := &models.Session{UserID: user.ID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if err := s.deps.Store.CreateSession(r.Context(), session); err != nil {
			writeError(w, err)
			return
		}
		req.SessionID = session.ID
	}

	sink, ok := s.newSink(w, req.Stream)
	if !ok {
		writeError(w, apperr.New(apperr.InvalidArguments, "streaming unsupported by this response writer"))
		return
	}
	defer s.closeSink(req.SessionID, sink)

	item := &scheduler.WorkItem{
		UserID:    user.ID,
		SessionID: req.SessionID,
		UserMessage: &models.Message{
			ID:        uuid.New().String(),
			SessionID: req.SessionID,
			Role:      models.RoleUser,
			Content:   req.Message,
			CreatedAt: time.Now(),
		},
		StreamCallback: func(event models.Event) { _ = sink.Send(event) },
	}
	s.runAndRespond(w, r, sink, item)
}

func (s *Server) handleChatConfirm(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return
	}

	var req chatConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidArguments, "invalid request body", err))
		return
	}
	if req.SessionID == "" || req.CallID == "" || (req.Action != "approve" && req.Action != "reject") {
		writeError(w, apperr.New(apperr.InvalidArguments, "session_id, call_id, and action (approve|reject) are required"))
		return
	}

	sink, ok := s.newSink(w, req.Stream)
	if !ok {
		writeError(w, apperr.New(apperr.InvalidArguments, "streaming unsupported by this response writer"))
		return
	}
	defer s.closeSink(req.SessionID, sink)

	item := &scheduler.WorkItem{
		UserID:         user.ID,
		SessionID:      req.SessionID,
		ResumeCallID:   req.CallID,
		ConfirmAction:  req.Action,
		StreamCallback: func(event models.Event) { _ = sink.Send(event) },
	}
	s.runAndRespond(w, r, sink, item)
}

// newSink builds the connreg.Sender appropriate to the request: an SSE
// writer when the caller asked to stream and the ResponseWriter supports
// flushing, otherwise a buffering collector that is rendered as one JSON
// object once the turn finishes.
func (s *Server) newSink(w http.ResponseWriter, stream bool) (streamSink, bool) {
	if stream {
		sender, ok := newSSESender(w)
		if !ok {
			return nil, false
		}
		return sender, true
	}
	return newEventCollector(), true
}

func (s *Server) closeSink(connectionID string, sink streamSink) {
	_ = sink.Close()
	if s.deps.Conns != nil {
		s.deps.Conns.Unbind(connectionID)
	}
}

// runAndRespond enqueues item on the scheduler and waits for the sink to
// observe a terminal event. Enqueue only admits work (it returns once a
// worker slot is claimed or the item is queued); the actual turn runs on a
// scheduler-owned goroutine and reports back exclusively through
// item.StreamCallback, so this is the synchronization point that turns
// that asynchronous admission back into a synchronous HTTP response.
func (s *Server) runAndRespond(w http.ResponseWriter, r *http.Request, sink streamSink, item *scheduler.WorkItem) {
	if s.deps.Conns != nil {
		s.deps.Conns.Bind(item.SessionID, models.TransportSSE, item.UserID, item.SessionID, sink)
	}

	if err := s.deps.Sched.Enqueue(r.Context(), item); err != nil {
		if collector, ok := sink.(*eventCollector); ok {
			_ = collector.Close()
		}
		writeError(w, err)
		return
	}

	select {
	case <-sink.Wait():
	case <-r.Context().Done():
		return
	}

	if collector, ok := sink.(*eventCollector); ok {
		collector.mu.Lock()
		defer collector.mu.Unlock()
		if collector.failure != nil {
			writeError(w, apperr.Wrap(apperr.Internal, collector.failure.Error(), collector.failure))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": item.SessionID,
			"text":       collector.final,
			"events":     collector.events,
		})
	}
}
