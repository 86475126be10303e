package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenstack/concierge/core"
)

func TestGateway_CompleteFallsBackInOrder(t *testing.T) {
	a := NewMockProvider("cloud")
	a.FailNext(-1)
	b := NewMockProvider("local")
	b.AddResponse("hello", "hi there")

	gw := NewGateway([]Provider{a, b}, func(c *Config) {
		c.MaxRetriesPerProvider = 1
	})

	text, err := gw.Complete(context.Background(), "hello", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)

	// A was attempted first (initial try + one retry), then B served the call.
	assert.Len(t, a.Calls(), 2)
	assert.Len(t, b.Calls(), 1)
}

func TestGateway_CompleteAllProvidersExhausted(t *testing.T) {
	a := NewMockProvider("cloud")
	a.FailNext(-1)
	b := NewMockProvider("local")
	b.FailNext(-1)

	gw := NewGateway([]Provider{a, b}, func(c *Config) {
		c.MaxRetriesPerProvider = 0
	})

	_, err := gw.Complete(context.Background(), "hello", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrProviderUnavailable))
}

func TestGateway_CompleteRetriesBeforeFailingOver(t *testing.T) {
	a := NewMockProvider("cloud")
	a.FailNext(1) // first attempt fails, retry succeeds
	a.AddResponse("ping", "pong")

	gw := NewGateway([]Provider{a}, func(c *Config) {
		c.MaxRetriesPerProvider = 2
	})

	text, err := gw.Complete(context.Background(), "ping", Options{})
	require.NoError(t, err)
	assert.Equal(t, "pong", text)
	assert.Len(t, a.Calls(), 2)
}

func TestGateway_CallerCancellationIsNotProviderFailure(t *testing.T) {
	a := NewMockProvider("cloud")
	a.FailNext(-1)

	gw := NewGateway([]Provider{a})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Complete(ctx, "hello", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, core.ErrProviderUnavailable))
}

func TestGateway_StreamDeliversFragmentsAndCompletes(t *testing.T) {
	a := NewMockProvider("cloud")
	a.AddResponse("tell", "three word reply")

	gw := NewGateway([]Provider{a})

	frags, errs := gw.Stream(context.Background(), "tell", Options{})
	var sb strings.Builder
	sawFinal := false
	for frag := range frags {
		if frag.Final {
			sawFinal = true
			continue
		}
		sb.WriteString(frag.Text)
	}
	require.NoError(t, <-errs)
	assert.True(t, sawFinal)
	assert.Equal(t, "three word reply", sb.String())
}

func TestGateway_StreamFailsOverBeforeFirstFragment(t *testing.T) {
	a := NewMockProvider("cloud")
	a.FailNext(-1)
	b := NewMockProvider("local")
	b.AddResponse("tell", "fallback stream")

	gw := NewGateway([]Provider{a, b}, func(c *Config) {
		c.MaxRetriesPerProvider = 0
	})

	frags, errs := gw.Stream(context.Background(), "tell", Options{})
	var sb strings.Builder
	for frag := range frags {
		sb.WriteString(frag.Text)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "fallback stream", sb.String())
	assert.NotEmpty(t, a.Calls())
}

func TestGateway_StreamFailsOverWhenFirstFragmentStalls(t *testing.T) {
	stalled := &stalledStreamProvider{MockProvider: NewMockProvider("cloud")}
	b := NewMockProvider("local")
	b.AddResponse("tell", "rescued stream")

	gw := NewGateway([]Provider{stalled, b}, func(c *Config) {
		c.TimeoutPerProvider = 100 * time.Millisecond
		c.MaxRetriesPerProvider = 0
	})

	start := time.Now()
	frags, errs := gw.Stream(context.Background(), "tell", Options{})
	var sb strings.Builder
	for frag := range frags {
		sb.WriteString(frag.Text)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "rescued stream", sb.String())
	// The stalled provider must be abandoned close to the per-call timeout,
	// long before any caller-side deadline.
	assert.Less(t, time.Since(start), time.Second)
}

func TestGateway_StreamTimeoutOnlyGatesFirstFragment(t *testing.T) {
	slow := &slowDripProvider{interval: 60 * time.Millisecond, words: []string{"one ", "two ", "three"}}

	gw := NewGateway([]Provider{slow}, func(c *Config) {
		c.TimeoutPerProvider = 100 * time.Millisecond
	})

	frags, errs := gw.Stream(context.Background(), "tell", Options{})
	var sb strings.Builder
	for frag := range frags {
		sb.WriteString(frag.Text)
	}
	// The whole stream takes longer than TimeoutPerProvider, but the gap
	// between fragments never does, so it must complete intact.
	require.NoError(t, <-errs)
	assert.Equal(t, "one two three", sb.String())
}

func TestGateway_StreamCancellationStopsAtFragmentBoundary(t *testing.T) {
	a := NewMockProvider("cloud")
	a.AddResponse("tell", strings.Repeat("word ", 200))

	gw := NewGateway([]Provider{a})

	ctx, cancel := context.WithCancel(context.Background())
	frags, errs := gw.Stream(ctx, "tell", Options{})

	// Consume a couple of fragments then cancel mid-stream.
	<-frags
	<-frags
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-frags:
			if !ok {
				err := <-errs
				assert.True(t, errors.Is(err, context.Canceled))
				return
			}
		case <-deadline:
			t.Fatal("stream did not terminate after cancellation")
		}
	}
}

func TestGateway_EmbedSkipsUnsupportedProviders(t *testing.T) {
	noEmbed := &unsupportedEmbedProvider{MockProvider: NewMockProvider("text-only")}
	b := NewMockProvider("local")

	gw := NewGateway([]Provider{noEmbed, b})

	vec, err := gw.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
	// The unsupported provider must not consume retries.
	assert.Len(t, b.Calls(), 1)
}

func TestGateway_PermanentErrorSkipsRetriesAndFailsOver(t *testing.T) {
	rejecting := &permanentErrorProvider{MockProvider: NewMockProvider("cloud")}
	b := NewMockProvider("local")
	b.AddResponse("hello", "served by fallback")

	gw := NewGateway([]Provider{rejecting, b}, func(c *Config) {
		c.MaxRetriesPerProvider = 2
	})

	text, err := gw.Complete(context.Background(), "hello", Options{})
	require.NoError(t, err)
	assert.Equal(t, "served by fallback", text)

	// A definitive rejection must not consume the retry budget: one attempt,
	// then straight to the next provider.
	assert.Len(t, rejecting.Calls(), 1)
	assert.Len(t, b.Calls(), 1)
}

func TestGateway_AllPermanentErrorsReportUnavailable(t *testing.T) {
	a := &permanentErrorProvider{MockProvider: NewMockProvider("cloud")}

	gw := NewGateway([]Provider{a}, func(c *Config) {
		c.MaxRetriesPerProvider = 3
	})

	_, err := gw.Complete(context.Background(), "hello", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrProviderUnavailable))
	assert.Len(t, a.Calls(), 1)
}

func TestGateway_ProviderOrderOverride(t *testing.T) {
	a := NewMockProvider("cloud")
	b := NewMockProvider("local")
	b.AddResponse("hello", "local first")

	gw := NewGateway([]Provider{a, b}, func(c *Config) {
		c.ProviderOrder = []string{"local", "cloud"}
	})

	text, err := gw.Complete(context.Background(), "hello", Options{})
	require.NoError(t, err)
	assert.Equal(t, "local first", text)
	assert.Empty(t, a.Calls())
}

type unsupportedEmbedProvider struct {
	*MockProvider
}

func (p *unsupportedEmbedProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrUnsupported
}

// stalledStreamProvider accepts the stream call but never produces a fragment,
// simulating a hung upstream connection.
type stalledStreamProvider struct {
	*MockProvider
}

func (p *stalledStreamProvider) Stream(ctx context.Context, prompt string, _ Options) (<-chan Fragment, <-chan error) {
	out := make(chan Fragment)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		<-ctx.Done()
		errCh <- ctx.Err()
	}()
	return out, errCh
}

// slowDripProvider emits one word per interval, with every inter-fragment gap
// below the per-provider timeout but the whole stream above it.
type slowDripProvider struct {
	interval time.Duration
	words    []string
}

func (p *slowDripProvider) Name() string { return "drip" }

func (p *slowDripProvider) Complete(context.Context, string, Options) (string, error) {
	return "", ErrUnsupported
}

func (p *slowDripProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrUnsupported
}

func (p *slowDripProvider) Stream(ctx context.Context, _ string, _ Options) (<-chan Fragment, <-chan error) {
	out := make(chan Fragment)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for _, w := range p.words {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-time.After(p.interval):
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Fragment{Text: w}:
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- Fragment{Final: true}:
		}
	}()
	return out, errCh
}

// permanentErrorProvider fails every call with a definitive rejection, the
// shape an adapter produces for a non-retryable API status.
type permanentErrorProvider struct {
	*MockProvider
}

func (p *permanentErrorProvider) Complete(_ context.Context, prompt string, _ Options) (string, error) {
	_ = p.record(prompt)
	return "", Permanent(errors.New("invalid request"))
}
