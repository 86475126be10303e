package core

// WorkflowState tracks the lifecycle position of one in-flight turn. States
// advance strictly forward; StateFailed is reachable from every non-terminal
// state and is itself terminal alongside StateCommitted.
type WorkflowState string

const (
	// StateReceived is the initial state of a freshly accepted turn.
	StateReceived WorkflowState = "received"
	// StateRecallingMemory covers the semantic recall step.
	StateRecallingMemory WorkflowState = "recalling_memory"
	// StateClassifying covers intent classification.
	StateClassifying WorkflowState = "classifying"
	// StateDispatching covers capability resolution and invocation.
	StateDispatching WorkflowState = "dispatching"
	// StateSynthesizing covers natural-language response composition.
	StateSynthesizing WorkflowState = "synthesizing"
	// StateStreaming covers token delivery to a streaming consumer.
	StateStreaming WorkflowState = "streaming"
	// StateCommitted is the successful terminal state.
	StateCommitted WorkflowState = "committed"
	// StateFailed is the error terminal state.
	StateFailed WorkflowState = "failed"
)

// order maps each state to its position in the forward progression. Terminal
// states carry no successor.
var stateOrder = map[WorkflowState]int{
	StateReceived:        0,
	StateRecallingMemory: 1,
	StateClassifying:     2,
	StateDispatching:     3,
	StateSynthesizing:    4,
	StateStreaming:       5,
	StateCommitted:       6,
	StateFailed:          7,
}

// Valid reports whether s is a known workflow state.
func (s WorkflowState) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

// Terminal reports whether s is committed or failed.
func (s WorkflowState) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// CanTransition reports whether moving from s to next respects the strictly
// forward progression. Failed is reachable from any non-terminal state;
// terminal states admit no successors. Intermediate states may be skipped
// (e.g. synthesizing -> committed when streaming is not requested).
func (s WorkflowState) CanTransition(next WorkflowState) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	return stateOrder[next] > stateOrder[s]
}
