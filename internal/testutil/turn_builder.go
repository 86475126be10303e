package testutil

import (
	"time"

	"github.com/lumenstack/concierge/core"
)

// TurnBuilder provides a fluent helper for constructing turns in tests.
// Example:
//
//	turn := NewTurnBuilder("s1").Content("where is order 42?").Committed("On its way.").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type TurnBuilder struct {
	turn core.Turn
}

// NewTurnBuilder creates a builder for a user turn bound to sessionID.
func NewTurnBuilder(sessionID string) *TurnBuilder {
	return &TurnBuilder{turn: core.NewTurn(sessionID, "")}
}

// ID overrides the auto-generated turn ID (chainable). Use where determinism matters.
func (b *TurnBuilder) ID(id string) *TurnBuilder { b.turn.ID = id; return b }

// Content sets the user utterance (chainable).
func (b *TurnBuilder) Content(c string) *TurnBuilder { b.turn.Content = c; return b }

// At sets the turn timestamp (chainable).
func (b *TurnBuilder) At(ts time.Time) *TurnBuilder { b.turn.Timestamp = ts; return b }

// Intent attaches a classification outcome (chainable).
func (b *TurnBuilder) Intent(label core.Intent, confidence float64) *TurnBuilder {
	b.turn.Intent = &core.IntentResult{Label: label, Confidence: confidence}
	return b
}

// Invocation attaches a successful capability invocation summary (chainable).
func (b *TurnBuilder) Invocation(name, summary string) *TurnBuilder {
	b.turn.Capability = &core.CapabilityInvocation{
		Name:     name,
		Result:   &core.CapabilityResult{Summary: summary},
		Attempts: 1,
	}
	return b
}

// Committed marks the turn committed with the given response (chainable).
func (b *TurnBuilder) Committed(response string) *TurnBuilder {
	b.turn.State = core.StateCommitted
	b.turn.Response = response
	return b
}

// Failed marks the turn failed with the given error kind (chainable).
func (b *TurnBuilder) Failed(kind string) *TurnBuilder {
	b.turn.State = core.StateFailed
	b.turn.ErrorKind = kind
	return b
}

// Build returns the constructed turn.
func (b *TurnBuilder) Build() core.Turn { return b.turn }
