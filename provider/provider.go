package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnsupported is returned by a provider for an operation it does not
// implement (e.g. embeddings on a completion-only vendor). The gateway skips
// past it to the next provider without consuming retries.
var ErrUnsupported = errors.New("operation not supported by provider")

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// Permanent marks a provider error as a definitive rejection (invalid
// request, failed auth). The gateway stops retrying the provider and moves
// on to the next one.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) is marked as a
// definitive rejection.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

// Options carries per-call generation parameters. Zero values defer to the
// provider's own defaults.
type Options struct {
	Temperature float64
	MaxTokens   int64
	// System is an optional system instruction prepended to the prompt.
	System string
}

// Fragment is one chunk of a streamed completion. Final marks the last
// fragment of the stream; no fragment is ever emitted twice.
type Fragment struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Provider is a single text-generation / embedding backend. Implementations
// must be safe for concurrent use and must release any connection handles on
// every exit path, including cancellation.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
	Stream(ctx context.Context, prompt string, opts Options) (<-chan Fragment, <-chan error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MockProvider is a lightweight in-memory Provider useful for tests. Canned
// completions are keyed by exact prompt; prompts without a canned entry fall
// back to a deterministic echo. Failures can be scripted per operation.
type MockProvider struct {
	name string

	mu        sync.Mutex
	responses map[string]string
	failures  int // remaining calls that fail before succeeding; -1 fails forever
	calls     []string
	embedDim  int
}

// NewMockProvider constructs a MockProvider with the given name.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name, responses: map[string]string{}, embedDim: 8}
}

// AddResponse registers a deterministic canned completion for a prompt. The
// match is by substring so callers can key on the embedded utterance rather
// than the full assembled prompt.
func (m *MockProvider) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailNext scripts the next n calls (any operation) to fail with a transport
// error. Pass -1 to fail every call.
func (m *MockProvider) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

// Calls returns the prompts observed so far, in call order.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Name implements Provider.
func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) record(prompt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, prompt)
	if m.failures != 0 {
		if m.failures > 0 {
			m.failures--
		}
		return fmt.Errorf("%s: simulated transport error", m.name)
	}
	return nil
}

func (m *MockProvider) lookup(prompt string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, resp := range m.responses {
		if strings.Contains(prompt, key) {
			return resp
		}
	}
	return fmt.Sprintf("Mock response to: %s", prompt)
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, prompt string, _ Options) (string, error) {
	if err := m.record(prompt); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.lookup(prompt), nil
}

// Stream implements Provider; emits word-level fragments then a final marker.
func (m *MockProvider) Stream(ctx context.Context, prompt string, _ Options) (<-chan Fragment, <-chan error) {
	out := make(chan Fragment, 16)
	errCh := make(chan error, 1)
	err := m.record(prompt)
	go func() {
		defer close(out)
		defer close(errCh)
		if err != nil {
			errCh <- err
			return
		}
		full := m.lookup(prompt)
		words := strings.SplitAfter(full, " ")
		for _, w := range words {
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

// Embed implements Provider with a deterministic character-histogram vector,
// good enough for similarity assertions in tests.
func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := m.record("embed:" + text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, m.embedDim)
	for i, r := range strings.ToLower(text) {
		vec[(i+int(r))%m.embedDim]++
	}
	return vec, nil
}
