// Package router dispatches classified intents to registered capabilities.
// It owns the confidence gate, the single retry granted to transient
// capability failures, and the normalization of every failure into the core
// error taxonomy.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumenstack/concierge/capability"
	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/logging"
)

// DefaultConfidenceThreshold gates dispatch on ambiguous classifications.
// Overridable via Options; it is a configuration default, not law.
const DefaultConfidenceThreshold = 0.5

// Options configure a Router.
type Options struct {
	// ConfidenceThreshold below which the router skips dispatch and hands
	// the turn to the clarify path.
	ConfidenceThreshold float64
	// RetryBackoff is the pause before the single retry of a transient
	// capability failure.
	RetryBackoff time.Duration
	Logger       logging.Logger
}

// Router resolves and invokes capabilities for classified intents.
type Router struct {
	registry  *capability.Registry
	threshold float64
	backoff   time.Duration
	logger    logging.Logger
}

// New constructs a Router over the given registry.
func New(registry *capability.Registry, optFns ...func(o *Options)) *Router {
	opts := Options{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		RetryBackoff:        100 * time.Millisecond,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		registry:  registry,
		threshold: opts.ConfidenceThreshold,
		backoff:   opts.RetryBackoff,
		logger:    opts.Logger,
	}
}

// Threshold returns the active confidence threshold.
func (r *Router) Threshold() float64 { return r.threshold }

// Dispatch routes a classified utterance to its capability.
//
// A nil invocation with a nil error means the router declined to dispatch
// (confidence below threshold, or the classifier produced unknown): the
// caller should take the clarify path. A confidently asserted label with no
// registered capability surfaces core.ErrRoutingGap. Capability failures are
// normalized into *core.CapabilityError; transient ones are retried once
// with backoff before being surfaced alongside the attempted invocation.
func (r *Router) Dispatch(ctx context.Context, intentRes core.IntentResult, utterance, sessionID string) (*core.CapabilityInvocation, error) {
	if intentRes.Label == core.IntentUnknown || intentRes.Confidence < r.threshold {
		r.logger.Debug("dispatch skipped", "intent", string(intentRes.Label), "confidence", intentRes.Confidence)
		return nil, nil
	}

	cap, err := r.registry.Resolve(intentRes.Label)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			r.logger.Error("routing gap: confident intent has no capability", "intent", string(intentRes.Label), "confidence", intentRes.Confidence)
			return nil, fmt.Errorf("intent %s (confidence %.2f): %w", intentRes.Label, intentRes.Confidence, core.ErrRoutingGap)
		}
		return nil, err
	}

	input := core.CapabilityInput{
		SessionID: sessionID,
		Utterance: utterance,
		Intent:    intentRes.Label,
	}

	inv := &core.CapabilityInvocation{Name: cap.Name(), Input: input}
	start := time.Now()

	var invokeErr error
	for attempt := 1; attempt <= 2; attempt++ {
		inv.Attempts = attempt

		if ctxErr := ctx.Err(); ctxErr != nil {
			inv.Latency = time.Since(start)
			inv.Err = ctxErr.Error()
			return inv, ctxErr
		}

		result, err := cap.Invoke(ctx, input)
		if err == nil {
			inv.Result = &result
			inv.Latency = time.Since(start)
			r.logCall(cap.Name(), inv.Latency, inv.Attempts, nil)
			return inv, nil
		}
		invokeErr = err

		if !core.IsTransient(err) || attempt == 2 {
			break
		}
		r.logger.Warn("transient capability failure, retrying", "capability", cap.Name(), "error", err)
		select {
		case <-ctx.Done():
			inv.Latency = time.Since(start)
			inv.Err = ctx.Err().Error()
			return inv, ctx.Err()
		case <-time.After(r.backoff):
		}
	}

	capErr := &core.CapabilityError{Name: cap.Name(), Cause: invokeErr, Retryable: core.IsTransient(invokeErr)}
	inv.Err = capErr.Error()
	inv.Latency = time.Since(start)
	r.logCall(cap.Name(), inv.Latency, inv.Attempts, capErr)
	return inv, capErr
}

func (r *Router) logCall(name string, dur time.Duration, attempts int, err error) {
	if cl, ok := r.logger.(*logging.ContextLogger); ok {
		cl.LogCapabilityCall(name, dur, attempts, err)
		return
	}
	if err != nil {
		r.logger.Error("capability invocation failed", "capability", name, "attempts", attempts, "error", err)
	} else {
		r.logger.Debug("capability invocation completed", "capability", name, "attempts", attempts)
	}
}
