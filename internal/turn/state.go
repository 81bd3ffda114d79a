package turn

// State is a turn's position in spec.md §4.F's state machine:
//
//	scheduled → streaming → (suspended_for_tool ↔ streaming)* → normalizing → committed | aborted | failed
type State string

const (
	StateScheduled        State = "scheduled"
	StateStreaming        State = "streaming"
	StateSuspendedForTool State = "suspended_for_tool"
	StateNormalizing      State = "normalizing"
	StateCommitted        State = "committed"
	StateAborted          State = "aborted"
	StateFailed           State = "failed"
)

var validTransitions = map[State][]State{
	StateScheduled:        {StateStreaming},
	StateStreaming:        {StateSuspendedForTool, StateNormalizing, StateAborted, StateFailed},
	StateSuspendedForTool: {StateStreaming, StateAborted},
	StateNormalizing:      {StateCommitted, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
