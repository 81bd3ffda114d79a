package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/dndcreator/promethea-gateway/internal/connreg"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// sseSender adapts one HTTP response into a connreg.Sender, writing each
// frame as an SSE event and flushing immediately so the client sees tokens
// as they arrive rather than buffered at the end of the turn. It tracks
// whether the stream has reached a terminal event — conversation.complete,
// conversation.error, or a tool call suspended awaiting confirmation — so
// the handler knows when to stop waiting and close the response.
type sseSender struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu   sync.Mutex
	once sync.Once
	done chan struct{}
}

func newSSESender(w http.ResponseWriter) (*sseSender, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseSender{w: w, flusher: flusher, done: make(chan struct{})}, true
}

// Send implements connreg.Sender.
func (s *sseSender) Send(frame connreg.Frame) error {
	event, ok := frame.(models.Event)
	if !ok {
		return nil
	}

	data, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, werr := s.w.Write([]byte("event: " + string(event.Type) + "\ndata: " + string(data) + "\n\n"))
	if werr == nil {
		s.flusher.Flush()
	}
	s.mu.Unlock()
	if werr != nil {
		return werr
	}

	if isTerminal(event) {
		s.once.Do(func() { close(s.done) })
	}
	return nil
}

// Close implements connreg.Sender.
func (s *sseSender) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Wait blocks until a terminal event has been sent, or the channel closes
// without one (the engine returned an error before emitting anything).
func (s *sseSender) Wait() <-chan struct{} {
	return s.done
}

func isTerminal(event models.Event) bool {
	switch event.Type {
	case models.EventConversationComplete, models.EventConversationError:
		return true
	case models.EventConversationStreamToolStart:
		if call, ok := event.Payload.(*models.ToolCall); ok {
			return call.Status == models.ToolCallAwaitingConfirm
		}
	}
	return false
}
