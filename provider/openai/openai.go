// Package openai implements provider.Provider on the OpenAI Chat Completions
// and Embeddings APIs (including streaming). Because the wire protocol is
// shared by several backends, the same adapter serves the hosted cloud
// endpoint and OpenAI-compatible servers such as Groq or a self-hosted
// Ollama instance via the BaseURL option.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lumenstack/concierge/provider"
)

// Options configure the adapter. Fields mirror a subset of Chat Completion
// parameters intentionally kept minimal; extend via functional options
// without breaking callers.
type Options struct {
	// Name identifies this provider instance in the gateway's provider order
	// (e.g. "openai", "groq", "ollama").
	Name string
	// Model is the completion model identifier.
	Model string
	// EmbedModel is the embedding model identifier.
	EmbedModel string
	// BaseURL overrides the API endpoint for OpenAI-compatible backends.
	BaseURL string
	// APIKey overrides the ambient credential lookup.
	APIKey string
}

// Provider wraps the OpenAI API behind the generic provider.Provider interface.
type Provider struct {
	client openai.Client
	opts   Options
}

// New creates a Provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Name:       "openai",
		Model:      openai.ChatModelGPT4oMini,
		EmbedModel: openai.EmbeddingModelTextEmbedding3Small,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Provider{client: openai.NewClient(clientOpts...), opts: opts}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.opts.Name }

// classifyErr marks definitive API rejections so the gateway does not burn
// its retry budget on them. Rate limits and timeouts stay retryable.
func classifyErr(err error) error {
	var apiErr *openai.Error
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

func (p *Provider) buildParams(prompt string, opts provider.Options) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if opts.System != "" {
		messages = append(messages, openai.SystemMessage(opts.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	return openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               openai.ChatModel(p.opts.Model),
		Temperature:         openai.Float(opts.Temperature),
		MaxCompletionTokens: openai.Int(opts.MaxTokens),
	}
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, prompt string, opts provider.Options) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(prompt, opts))
	if err != nil {
		return "", classifyErr(fmt.Errorf("%s api error: %w", p.opts.Name, err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices returned", p.opts.Name)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements provider.Provider; forwards delta chunks as fragments and
// closes the SSE stream on every exit path.
func (p *Provider) Stream(ctx context.Context, prompt string, opts provider.Options) (<-chan provider.Fragment, <-chan error) {
	out := make(chan provider.Fragment, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(prompt, opts))
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case out <- provider.Fragment{Text: choice.Delta.Content}:
					}
				}
				if choice.FinishReason != "" {
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case out <- provider.Fragment{Final: true}:
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- classifyErr(fmt.Errorf("%s streaming error: %w", p.opts.Name, err))
		}
	}()

	return out, errCh
}

// Embed implements provider.Provider using the embeddings endpoint.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(p.opts.EmbedModel),
	})
	if err != nil {
		return nil, classifyErr(fmt.Errorf("%s embeddings error: %w", p.opts.Name, err))
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%s: no embedding returned", p.opts.Name)
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
