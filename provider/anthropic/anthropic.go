// Package anthropic implements provider.Provider on the Anthropic Claude
// Messages API. It is completion-only: the vendor exposes no embeddings
// endpoint, and streaming is not wired yet, so both operations return
// provider.ErrUnsupported and the gateway skips to the next provider.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lumenstack/concierge/provider"
)

// Options configure the Anthropic adapter (model id, API key).
type Options struct {
	Name   string
	Model  anthropic.Model
	APIKey string
}

// Provider wraps the Anthropic Messages API behind the generic
// provider.Provider interface.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

// New creates a Provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Name:  "anthropic",
		Model: anthropic.ModelClaude3_5Sonnet20241022,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Provider{client: &client, opts: opts}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.opts.Name }

// classifyErr marks definitive API rejections so the gateway does not burn
// its retry budget on them. Rate limits and timeouts stay retryable.
func classifyErr(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return err
	}
	if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return provider.Permanent(err)
	}
	return err
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, prompt string, opts provider.Options) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       p.opts.Model,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		MaxTokens:   opts.MaxTokens,
		Temperature: anthropic.Float(opts.Temperature),
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.System}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyErr(fmt.Errorf("anthropic api error: %w", err))
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}

// Stream implements provider.Provider.
// TODO: wire anthropic.MessageStreamEvent handling; until then the gateway
// falls back to the next provider for streamed turns.
func (p *Provider) Stream(ctx context.Context, prompt string, opts provider.Options) (<-chan provider.Fragment, <-chan error) {
	out := make(chan provider.Fragment)
	errCh := make(chan error, 1)
	errCh <- provider.ErrUnsupported
	close(out)
	close(errCh)
	return out, errCh
}

// Embed implements provider.Provider. Anthropic offers no embeddings API.
func (p *Provider) Embed(context.Context, string) ([]float32, error) {
	return nil, provider.ErrUnsupported
}
