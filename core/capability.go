package core

import (
	"context"
	"time"
)

// CapabilityInput carries the structured input assembled by the router for a
// capability invocation. Payload is free-form; domain capabilities define
// their own expected keys.
type CapabilityInput struct {
	SessionID string         `json:"session_id"`
	Utterance string         `json:"utterance"`
	Intent    Intent         `json:"intent"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// CapabilityResult is the structured outcome of a capability invocation.
// Summary is a short human-readable description suitable for response
// synthesis; Data carries the structured payload for machine consumers.
type CapabilityResult struct {
	Summary string         `json:"summary"`
	Data    map[string]any `json:"data,omitempty"`
}

// Capability is a registered domain action. Implementations live outside the
// orchestration core (orders, inventory, CRM, finance, fraud) and are invoked
// through this narrow contract only.
//
// Implementations must:
//   - Respect context cancellation
//   - Return domain failures as errors rather than panicking
//   - Be safe for concurrent invocation across sessions
type Capability interface {
	Name() string
	Invoke(ctx context.Context, input CapabilityInput) (CapabilityResult, error)
}

// CapabilityInvocation summarizes one routed capability call for embedding in
// a Turn. Transient; never persisted on its own.
type CapabilityInvocation struct {
	Name     string            `json:"name"`
	Input    CapabilityInput   `json:"input"`
	Result   *CapabilityResult `json:"result,omitempty"`
	Err      string            `json:"error,omitempty"`
	Latency  time.Duration     `json:"latency"`
	Attempts int               `json:"attempts"`
}

// Succeeded reports whether the invocation produced a result.
func (ci CapabilityInvocation) Succeeded() bool { return ci.Result != nil && ci.Err == "" }
