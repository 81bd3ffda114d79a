package turn

import "testing"

func TestCanTransitionMatchesDocumentedMachine(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateScheduled, StateStreaming},
		{StateStreaming, StateSuspendedForTool},
		{StateStreaming, StateNormalizing},
		{StateStreaming, StateAborted},
		{StateStreaming, StateFailed},
		{StateSuspendedForTool, StateStreaming},
		{StateSuspendedForTool, StateAborted},
		{StateNormalizing, StateCommitted},
		{StateNormalizing, StateFailed},
	}
	for _, tc := range allowed {
		if !canTransition(tc.from, tc.to) {
			t.Errorf("canTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to State }{
		{StateScheduled, StateCommitted},
		{StateCommitted, StateStreaming},
		{StateAborted, StateStreaming},
		{StateFailed, StateNormalizing},
		{StateSuspendedForTool, StateNormalizing},
	}
	for _, tc := range denied {
		if canTransition(tc.from, tc.to) {
			t.Errorf("canTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}
