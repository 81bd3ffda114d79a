// Package turn implements the Turn Engine: prompt assembly, streaming
// classification of LLM deltas, tool-call interleave with confirmation
// suspension, output normalization, and the per-turn state machine.
package turn

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dndcreator/promethea-gateway/internal/agent"
	agentcontext "github.com/dndcreator/promethea-gateway/internal/agent/context"
	"github.com/dndcreator/promethea-gateway/internal/apperr"
	"github.com/dndcreator/promethea-gateway/internal/bus"
	"github.com/dndcreator/promethea-gateway/internal/store"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// DefaultSystemPrompt is used when a user has not configured a persona.
const DefaultSystemPrompt = "You are a helpful assistant."

// MemoryRecaller is the subset of the Memory Service's recall operation F
// consumes (spec.md §4.H). A nil recaller means no recall block is added.
type MemoryRecaller interface {
	// Recall returns a textual recall block, or "" if gating decides
	// recall adds no value for this query.
	Recall(ctx context.Context, userID, queryText string) (string, error)
}

// Input is one turn's work, independent of how the scheduler framed it.
type Input struct {
	UserID    string
	SessionID string

	// UserMessage is set for a fresh turn; nil when ResumeCallID is set.
	UserMessage *models.Message

	// ResumeCallID, when non-empty, identifies the PendingConfirmation
	// this item resumes; ConfirmAction is "approve" or "reject".
	ResumeCallID  string
	ConfirmAction string

	// Emit streams turn events out to the SSE surface. May be nil.
	Emit func(models.Event)
}

// Config bounds the engine's prompt assembly and tool-loop behavior.
type Config struct {
	Model           string
	MaxTokens       int
	HistoryRounds   int // pairs of user+assistant messages; 0 uses the packer's default budget
	ToolHopsMax     int
	ConfirmationTTL time.Duration
	StreamEnabled   bool
}

// DefaultConfig matches spec.md §4.F's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:       4096,
		HistoryRounds:   20,
		ToolHopsMax:     6,
		ConfirmationTTL: DefaultConfirmationTTL,
		StreamEnabled:   true,
	}
}

// Engine is the Turn Engine component (spec.md §4.F).
type Engine struct {
	cfg  Config
	st   store.Store
	bus  *bus.Bus
	log  *slog.Logger

	provider agent.LLMProvider
	packer   *agentcontext.Packer
	prune    agentcontext.ContextPruningSettings

	tools         ToolInvoker
	confirmations ConfirmationStore
	recaller      MemoryRecaller
}

// New constructs an Engine. tools and recaller may be nil (tool calls are
// then always denied; recall blocks are always skipped).
func New(cfg Config, st store.Store, provider agent.LLMProvider, tools ToolInvoker, confirmations ConfirmationStore, recaller MemoryRecaller, eventBus *bus.Bus, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.ToolHopsMax <= 0 {
		cfg.ToolHopsMax = def.ToolHopsMax
	}
	if cfg.ConfirmationTTL <= 0 {
		cfg.ConfirmationTTL = def.ConfirmationTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if confirmations == nil {
		confirmations = NewMemoryConfirmationStore()
	}
	return &Engine{
		cfg:           cfg,
		st:            st,
		bus:           eventBus,
		log:           logger,
		provider:      provider,
		packer:        agentcontext.NewPacker(agentcontext.DefaultPackOptions()),
		prune:         agentcontext.DefaultContextPruningSettings(),
		tools:         tools,
		confirmations: confirmations,
		recaller:      recaller,
	}
}

// Run executes in, matching a scheduler.Executor's signature via the
// caller's own adapter closure (turn does not import scheduler, to keep
// the dependency direction scheduler -> turn, not both ways).
//
// For a fresh turn, handle must be the open TurnHandle the caller obtained
// from store.BeginTurn. For a resume (in.ResumeCallID != ""), handle is
// ignored — the engine recovers the original handle from the saved
// PendingConfirmation state, since the turn has remained open since it
// first suspended.
func (e *Engine) Run(ctx context.Context, in Input, handle *store.TurnHandle) error {
	if in.ResumeCallID != "" {
		return e.resume(ctx, in)
	}
	return e.start(ctx, in, handle)
}

func (e *Engine) start(ctx context.Context, in Input, handle *store.TurnHandle) error {
	user, err := e.st.GetUser(ctx, in.UserID)
	if err != nil {
		return err
	}

	history, err := e.st.GetHistory(ctx, in.UserID, in.SessionID, e.cfg.HistoryRounds*2)
	if err != nil {
		return err
	}

	system := user.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	if e.recaller != nil && in.UserMessage != nil {
		block, recallErr := e.recaller.Recall(ctx, in.UserID, in.UserMessage.Content)
		if recallErr != nil {
			e.log.Warn("recall failed", "user_id", in.UserID, "error", recallErr)
		} else if block != "" {
			system = system + "\n\n" + block
		}
	}

	packed, err := e.packer.Pack(history, in.UserMessage, nil)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "pack context", err)
	}
	packed = agentcontext.PruneContextMessages(packed, e.prune, e.cfg.MaxTokens*4)

	e.emit(in, models.EventConversationStart, map[string]string{"session_id": in.SessionID})

	return e.converse(ctx, in, handle, system, toCompletionMessages(packed), 0)
}

// converse drives one or more streamed LLM calls, interleaving tool calls,
// until the turn reaches a terminal state (committed, suspended-for-tool,
// or failed).
func (e *Engine) converse(ctx context.Context, in Input, handle *store.TurnHandle, system string, msgs []agent.CompletionMessage, hops int) error {
	req := &agent.CompletionRequest{
		Model:     e.cfg.Model,
		System:    system,
		Messages:  msgs,
		MaxTokens: e.cfg.MaxTokens,
	}
	if e.tools != nil {
		req.Tools = e.tools.Definitions()
	}

	chunks, err := e.provider.Complete(ctx, req)
	if err != nil {
		return e.fail(ctx, handle, in, apperr.Wrap(apperr.UpstreamUnavailable, "provider completion failed", err))
	}

	text, toolCall, err := e.consumeStream(in, chunks)
	if err != nil {
		return e.fail(ctx, handle, in, err)
	}

	if toolCall == nil {
		return e.finish(ctx, in, handle, msgs, text)
	}

	e.emit(in, models.EventConversationStreamToolDetect, toolCall)

	if e.tools != nil && e.tools.RequiresConfirmation(in.UserID, in.SessionID, toolCall.ToolName) {
		return e.suspend(ctx, in, handle, system, msgs, text, toolCall, hops)
	}

	return e.invokeAndContinue(ctx, in, handle, system, msgs, text, toolCall, hops)
}

func (e *Engine) invokeAndContinue(ctx context.Context, in Input, handle *store.TurnHandle, system string, msgs []agent.CompletionMessage, text string, toolCall *models.ToolCall, hops int) error {
	hops++
	if hops > e.cfg.ToolHopsMax {
		return e.fail(ctx, handle, in, apperr.New(apperr.ToolLoopLimit, "tool hop limit exceeded"))
	}

	e.emit(in, models.EventConversationStreamToolStart, toolCallEvent(toolCall, models.ToolCallRunning))

	var resultText string
	if e.tools == nil {
		toolCall.Status = models.ToolCallError
		toolCall.Error = "no tool service configured"
		e.emit(in, models.EventConversationStreamToolError, toolCall)
	} else {
		result, invokeErr := e.tools.Invoke(ctx, in.UserID, in.SessionID, toolCall.ToolName, toolCall.Arguments)
		if invokeErr != nil {
			toolCall.Status = models.ToolCallError
			toolCall.Error = invokeErr.Error()
			e.emit(in, models.EventConversationStreamToolError, toolCall)
		} else {
			toolCall.Status = models.ToolCallDone
			toolCall.Result = result
			resultText = result
			e.emit(in, models.EventConversationStreamToolResult, toolCall)
		}
	}

	msgs = appendToolRound(msgs, text, toolCall, resultText)
	return e.converse(ctx, in, handle, system, msgs, hops)
}

// suspend serializes partial state and records a PendingConfirmation; the
// scheduler's worker is released and the turn stays open (neither
// committed nor aborted) until a resume item arrives.
func (e *Engine) suspend(ctx context.Context, in Input, handle *store.TurnHandle, system string, msgs []agent.CompletionMessage, text string, toolCall *models.ToolCall, hops int) error {
	state := resumeState{
		UserID:      in.UserID,
		SessionID:   in.SessionID,
		TurnIndex:   handle.TurnIndex,
		System:      system,
		Messages:    msgs,
		Buffer:      text,
		CallID:      toolCall.CallID,
		ToolName:    toolCall.ToolName,
		Arguments:   toolCall.Arguments,
		Hops:        hops,
		UserMessage: in.UserMessage,
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return e.fail(ctx, handle, in, apperr.Wrap(apperr.Internal, "serialize resume state", err))
	}

	pending := &models.PendingConfirmation{
		CallID:      toolCall.CallID,
		SessionID:   in.SessionID,
		UserID:      in.UserID,
		ToolName:    toolCall.ToolName,
		Arguments:   toolCall.Arguments,
		CreatedAt:   time.Now(),
		ResumeState: encoded,
	}
	if err := e.confirmations.Put(ctx, pending); err != nil {
		return e.fail(ctx, handle, in, err)
	}

	toolCall.Status = models.ToolCallAwaitingConfirm
	e.emit(in, models.EventConversationStreamToolStart, toolCallEvent(toolCall, models.ToolCallAwaitingConfirm))
	return nil
}

func (e *Engine) resume(ctx context.Context, in Input) error {
	pending, err := e.confirmations.Get(ctx, in.ResumeCallID)
	if err != nil {
		return err
	}
	if err := e.confirmations.Delete(ctx, in.ResumeCallID); err != nil {
		e.log.Warn("delete pending confirmation failed", "call_id", in.ResumeCallID, "error", err)
	}

	var state resumeState
	if err := json.Unmarshal(pending.ResumeState, &state); err != nil {
		return apperr.Wrap(apperr.Internal, "decode resume state", err)
	}
	handle := &store.TurnHandle{UserID: state.UserID, SessionID: state.SessionID, TurnIndex: state.TurnIndex}
	in.UserMessage = state.UserMessage

	expired := pending.Expired(time.Now(), e.cfg.ConfirmationTTL)
	toolCall := &models.ToolCall{CallID: state.CallID, ToolName: state.ToolName, Arguments: state.Arguments}

	if expired || in.ConfirmAction == "reject" {
		toolCall.Status = models.ToolCallRejected
		toolCall.Result = "rejected by user"
		e.emit(in, models.EventConversationStreamToolResult, toolCall)
		msgs := appendToolRound(state.Messages, state.Buffer, toolCall, "rejected by user")
		return e.converse(ctx, in, handle, state.System, msgs, state.Hops)
	}

	return e.invokeAndContinue(ctx, in, handle, state.System, state.Messages, state.Buffer, toolCall, state.Hops)
}

func (e *Engine) finish(ctx context.Context, in Input, handle *store.TurnHandle, msgs []agent.CompletionMessage, rawText string) error {
	final := NormalizeOutput(rawText)

	assistantMsg := &models.Message{
		SessionID: in.SessionID,
		Role:      models.RoleAssistant,
		Content:   final,
	}
	toCommit := []*models.Message{assistantMsg}
	if in.UserMessage != nil {
		toCommit = append([]*models.Message{in.UserMessage}, toCommit...)
	}

	if err := e.st.CommitTurn(ctx, handle, toCommit); err != nil {
		return e.fail(ctx, handle, in, err)
	}

	e.emit(in, models.EventConversationComplete, map[string]string{"session_id": in.SessionID, "text": final})
	return nil
}

func (e *Engine) fail(ctx context.Context, handle *store.TurnHandle, in Input, err error) error {
	if handle != nil {
		if abortErr := e.st.AbortTurn(ctx, handle); abortErr != nil {
			e.log.Warn("abort turn failed", "session_id", in.SessionID, "error", abortErr)
		}
	}
	e.emit(in, models.EventConversationError, map[string]string{"session_id": in.SessionID, "error": err.Error()})
	return err
}

func (e *Engine) emit(in Input, eventType models.EventType, payload any) {
	if in.Emit != nil && e.cfg.StreamEnabled {
		in.Emit(models.Event{Type: eventType, Payload: payload, Timestamp: time.Now(), CorrelationID: in.SessionID})
	}
	if e.bus != nil {
		e.bus.Emit(eventType, payload, in.SessionID)
	}
}

// consumeStream drains chunks, classifying each as text, tool-call
// fragment (accumulated per provider-supplied identifier), or
// end-of-stream, per spec.md §4.F. It returns the first complete tool
// call encountered, if any — providers surface a whole ToolCall per
// chunk rather than incremental fragments (see agent.CompletionChunk),
// so accumulation here is simply "the first non-nil one wins".
func (e *Engine) consumeStream(in Input, chunks <-chan *agent.CompletionChunk) (string, *models.ToolCall, error) {
	var buf []byte
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", nil, apperr.Wrap(apperr.UpstreamUnavailable, "stream error", chunk.Error)
		}
		if chunk.Text != "" {
			buf = append(buf, chunk.Text...)
			e.emit(in, models.EventConversationStreamText, map[string]string{"delta": chunk.Text})
		}
		if chunk.ToolCall != nil {
			return string(buf), chunk.ToolCall, nil
		}
		if chunk.Done {
			break
		}
	}
	return string(buf), nil, nil
}

// resumeState is the Turn Engine's serialized partial state carried in
// PendingConfirmation.ResumeState across the suspend/resume boundary.
type resumeState struct {
	UserID      string                    `json:"user_id"`
	SessionID   string                    `json:"session_id"`
	TurnIndex   int64                     `json:"turn_index"`
	System      string                    `json:"system"`
	Messages    []agent.CompletionMessage `json:"messages"`
	Buffer      string                    `json:"buffer"`
	CallID      string                    `json:"call_id"`
	ToolName    string                    `json:"tool_name"`
	Arguments   json.RawMessage           `json:"arguments"`
	Hops        int                       `json:"hops"`
	UserMessage *models.Message           `json:"user_message,omitempty"`
}

func toolCallEvent(call *models.ToolCall, status models.ToolCallStatus) *models.ToolCall {
	call.Status = status
	return call
}

func appendToolRound(msgs []agent.CompletionMessage, assistantText string, call *models.ToolCall, resultText string) []agent.CompletionMessage {
	out := append(msgs, agent.CompletionMessage{
		Role:      "assistant",
		Content:   assistantText,
		ToolCalls: []models.ToolCall{*call},
	})
	return append(out, agent.CompletionMessage{
		Role:    "tool",
		Content: resultText,
	})
}

func toCompletionMessages(msgs []*models.Message) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, agent.CompletionMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			ToolCalls: m.ToolCalls,
		})
	}
	return out
}
