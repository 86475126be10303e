// Package concierge provides a high-level façade over the orchestration core
// (provider gateway, intent classifier, capability router, workflow engine and
// its memory/session stores) enabling rapid construction of conversational
// business-automation services. Most applications interact with this package
// by:
//  1. Creating a Concierge via New() with one or more providers (optionally
//     overriding default in-memory stores)
//  2. Registering domain capabilities against intent labels
//  3. Handling turns synchronously (HandleTurn) or as a token stream
//     (HandleTurnStream)
//
// The façade delegates orchestration to workflow.Engine while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply durable stores and a
// structured logger.
package concierge

import (
	"context"

	"github.com/lumenstack/concierge/capability"
	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/intent"
	"github.com/lumenstack/concierge/logging"
	"github.com/lumenstack/concierge/provider"
	"github.com/lumenstack/concierge/router"
	"github.com/lumenstack/concierge/session"
	"github.com/lumenstack/concierge/workflow"
)

// Version is the library version, set at release time.
const Version = "0.1.0"

// Options configures the Concierge instance.
type Options struct {
	// GatewayConfig overrides the provider failover policy (order, per-call
	// timeout, retries).
	GatewayConfig []func(c *provider.Config)

	// ConfidenceThreshold below which classified intents are not dispatched.
	ConfidenceThreshold float64

	// Stores (defaults to in-memory implementations if not provided).
	SessionStore core.SessionStore
	MemoryStore  core.MemoryStore

	// EngineConfig overrides turn budget, recall depth and history window.
	EngineConfig []func(o *workflow.Options)

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Concierge is the high-level façade aggregating the gateway, classifier,
// registry, router and workflow engine.
type Concierge struct {
	gateway  *provider.Gateway
	registry *capability.Registry
	engine   *workflow.Engine
	sessions core.SessionStore
}

// New creates a Concierge over the given providers with optional overrides.
// Any unset store is initialized with an in-memory implementation.
func New(providers []provider.Provider, optFns ...func(o *Options)) *Concierge {
	opts := Options{
		ConfidenceThreshold: router.DefaultConfidenceThreshold,
		SessionStore:        session.NewInMemoryStore(),
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	gatewayFns := append([]func(c *provider.Config){func(c *provider.Config) {
		c.Logger = opts.Logger
	}}, opts.GatewayConfig...)
	gateway := provider.NewGateway(providers, gatewayFns...)

	registry := capability.NewRegistry()
	dispatcher := router.New(registry, func(o *router.Options) {
		o.ConfidenceThreshold = opts.ConfidenceThreshold
		o.Logger = opts.Logger
	})
	classifier := intent.NewClassifier(gateway, func(o *intent.Options) {
		o.Logger = opts.Logger
	})

	engineFns := append([]func(o *workflow.Options){func(o *workflow.Options) {
		o.SessionStore = opts.SessionStore
		o.MemoryStore = opts.MemoryStore
		o.Logger = opts.Logger
	}}, opts.EngineConfig...)
	engine := workflow.New(gateway, classifier, dispatcher, engineFns...)

	return &Concierge{
		gateway:  gateway,
		registry: registry,
		engine:   engine,
		sessions: opts.SessionStore,
	}
}

// RegisterCapability binds a capability to an intent label.
func (c *Concierge) RegisterCapability(label core.Intent, cap core.Capability) error {
	return c.registry.Register(label, cap)
}

// Registry exposes the capability registry for transport layers that list
// registered labels.
func (c *Concierge) Registry() *capability.Registry { return c.registry }

// Engine exposes the underlying workflow engine.
func (c *Concierge) Engine() *workflow.Engine { return c.engine }

// Sessions exposes the session store backing the engine.
func (c *Concierge) Sessions() core.SessionStore { return c.sessions }

// HandleTurn processes one utterance to a terminal state and returns the
// synthesized response.
func (c *Concierge) HandleTurn(ctx context.Context, sessionID, utterance string, optFns ...func(o *workflow.TurnOptions)) (*workflow.TurnResult, error) {
	return c.engine.HandleTurn(ctx, sessionID, utterance, optFns...)
}

// HandleTurnStream processes one utterance like HandleTurn but delivers the
// synthesized response as a fragment stream.
func (c *Concierge) HandleTurnStream(ctx context.Context, sessionID, utterance string, optFns ...func(o *workflow.TurnOptions)) (<-chan provider.Fragment, <-chan error) {
	return c.engine.HandleTurnStream(ctx, sessionID, utterance, optFns...)
}
