package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/logging"
)

// Config holds the failover policy applied by the Gateway.
type Config struct {
	// ProviderOrder lists provider names in the order they are tried. Names
	// absent from the registered providers are skipped.
	ProviderOrder []string
	// TimeoutPerProvider bounds every individual provider call.
	TimeoutPerProvider time.Duration
	// MaxRetriesPerProvider is the number of retries after the first attempt.
	MaxRetriesPerProvider int
	// Temperature and MaxTokens are defaults applied when the caller's
	// Options leave them zero.
	Temperature float64
	MaxTokens   int64
	// Logger receives per-attempt diagnostics.
	Logger logging.Logger
}

// Gateway fans requests out over an ordered list of providers with per-call
// timeouts and bounded retries. A provider that times out or returns a
// transport error is retried up to the configured limit, then the next
// provider is tried; when every provider is exhausted the call fails with
// core.ErrProviderUnavailable. Caller cancellation is never converted into a
// provider failure.
//
// The Gateway holds no state across calls beyond the provider clients
// themselves and is safe for concurrent use.
type Gateway struct {
	providers map[string]Provider
	order     []string
	timeout   time.Duration
	retries   int
	temp      float64
	maxTokens int64
	logger    logging.Logger
}

// NewGateway constructs a Gateway over the given providers with optional
// config overrides. The default order is the registration order.
func NewGateway(providers []Provider, optFns ...func(c *Config)) *Gateway {
	cfg := Config{
		TimeoutPerProvider:    30 * time.Second,
		MaxRetriesPerProvider: 1,
		Temperature:           0.3,
		MaxTokens:             1024,
		Logger:                logging.NoOpLogger{},
	}
	for _, p := range providers {
		cfg.ProviderOrder = append(cfg.ProviderOrder, p.Name())
	}
	for _, fn := range optFns {
		fn(&cfg)
	}

	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	return &Gateway{
		providers: byName,
		order:     cfg.ProviderOrder,
		timeout:   cfg.TimeoutPerProvider,
		retries:   cfg.MaxRetriesPerProvider,
		temp:      cfg.Temperature,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

func (g *Gateway) fill(opts Options) Options {
	if opts.Temperature == 0 {
		opts.Temperature = g.temp
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = g.maxTokens
	}
	return opts
}

func (g *Gateway) ordered() []Provider {
	out := make([]Provider, 0, len(g.order))
	for _, name := range g.order {
		if p, ok := g.providers[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Complete runs a single-shot completion through the provider chain.
func (g *Gateway) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	opts = g.fill(opts)
	for _, p := range g.ordered() {
		for attempt := 0; attempt <= g.retries; attempt++ {
			start := time.Now()
			callCtx, cancel := context.WithTimeout(ctx, g.timeout)
			text, err := p.Complete(callCtx, prompt, opts)
			cancel()
			if err == nil {
				g.logCall(p.Name(), start, true, nil)
				return text, nil
			}
			g.logCall(p.Name(), start, false, err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			if errors.Is(err, ErrUnsupported) || IsPermanent(err) {
				break
			}
		}
	}
	return "", fmt.Errorf("complete: %w", core.ErrProviderUnavailable)
}

// Embed produces an embedding vector through the provider chain. Providers
// without embedding support are skipped without consuming retries.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	for _, p := range g.ordered() {
		for attempt := 0; attempt <= g.retries; attempt++ {
			start := time.Now()
			callCtx, cancel := context.WithTimeout(ctx, g.timeout)
			vec, err := p.Embed(callCtx, text)
			cancel()
			if err == nil {
				g.logCall(p.Name(), start, true, nil)
				return vec, nil
			}
			g.logCall(p.Name(), start, false, err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, ErrUnsupported) || IsPermanent(err) {
				break
			}
		}
	}
	return nil, fmt.Errorf("embed: %w", core.ErrProviderUnavailable)
}

// Stream opens a token stream through the provider chain. Fallback applies
// only until the first fragment is delivered; once a provider has started
// emitting, its stream is piped through verbatim and a mid-stream failure is
// reported on the error channel rather than retried, so no fragment can be
// emitted twice. Cancelling ctx closes the underlying provider stream and
// discards buffered fragments.
func (g *Gateway) Stream(ctx context.Context, prompt string, opts Options) (<-chan Fragment, <-chan error) {
	opts = g.fill(opts)
	out := make(chan Fragment, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		for _, p := range g.ordered() {
			for attempt := 0; attempt <= g.retries; attempt++ {
				delivered, err := g.pipeStream(ctx, p, prompt, opts, out)
				if err == nil {
					return
				}
				if delivered {
					// Mid-stream failure: surface, never restart.
					errCh <- err
					return
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					errCh <- ctxErr
					return
				}
				if errors.Is(err, ErrUnsupported) || IsPermanent(err) {
					break
				}
			}
		}
		errCh <- fmt.Errorf("stream: %w", core.ErrProviderUnavailable)
	}()

	return out, errCh
}

// pipeStream forwards one provider's stream to out. It reports whether any
// fragment was delivered before the stream ended, which disables failover.
// TimeoutPerProvider bounds the wait for the first fragment; once a provider
// is emitting, stream length is governed by the caller's budget only.
func (g *Gateway) pipeStream(ctx context.Context, p Provider, prompt string, opts Options, out chan<- Fragment) (bool, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	firstFragment := time.AfterFunc(g.timeout, cancel)
	defer firstFragment.Stop()

	start := time.Now()
	frags, errs := p.Stream(streamCtx, prompt, opts)
	delivered := false
	for {
		select {
		case <-streamCtx.Done():
			if ctxErr := ctx.Err(); ctxErr != nil {
				return delivered, ctxErr
			}
			err := fmt.Errorf("provider %s: no fragment within %s: %w", p.Name(), g.timeout, context.DeadlineExceeded)
			g.logCall(p.Name(), start, false, err)
			return delivered, err
		case frag, ok := <-frags:
			if !ok {
				// Drain the error channel before declaring success.
				if err := <-errs; err != nil {
					g.logCall(p.Name(), start, false, err)
					return delivered, err
				}
				g.logCall(p.Name(), start, true, nil)
				return delivered, nil
			}
			select {
			case <-ctx.Done():
				return delivered, ctx.Err()
			case out <- frag:
				firstFragment.Stop()
				delivered = true
			}
		}
	}
}

func (g *Gateway) logCall(name string, start time.Time, success bool, err error) {
	if cl, ok := g.logger.(*logging.ContextLogger); ok {
		cl.LogProviderCall(name, time.Since(start), success, err)
		return
	}
	if success {
		g.logger.Debug("provider call completed", "provider", name)
	} else {
		g.logger.Warn("provider call failed", "provider", name, "error", err)
	}
}
