// Package intent maps free-text utterances onto the closed intent label set.
// The primary path prompts the provider gateway and parses its structured
// reply; when every provider is down a deterministic keyword heuristic keeps
// the conversation moving with reduced trust.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/logging"
	"github.com/lumenstack/concierge/provider"
)

// HeuristicConfidence is the fixed confidence assigned by the keyword
// fallback, chosen low to signal reduced trust to the confidence gate.
const HeuristicConfidence = 0.3

// Completer is the slice of the provider gateway the classifier needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts provider.Options) (string, error)
}

// Options configure a Classifier.
type Options struct {
	Logger logging.Logger
}

// Classifier performs intent classification. Given an identical gateway
// response the output is identical on every call; the only nondeterminism is
// the provider's own, which tests mock away.
type Classifier struct {
	gateway Completer
	logger  logging.Logger
}

// NewClassifier constructs a Classifier over the given gateway.
func NewClassifier(gateway Completer, optFns ...func(o *Options)) *Classifier {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Classifier{gateway: gateway, logger: opts.Logger}
}

const systemInstruction = "You are an intent classifier for a business operations assistant. " +
	"Reply with exactly one line of the form label|confidence|rationale, where confidence is a number between 0 and 1."

// Classify maps an utterance (plus recalled conversational context) to an
// IntentResult. The provider path is tried first; on ErrProviderUnavailable
// the keyword heuristic takes over with fixed low confidence.
func (c *Classifier) Classify(ctx context.Context, utterance string, recalled []core.MemoryRecord) (core.IntentResult, error) {
	prompt := buildPrompt(utterance, recalled)

	raw, err := c.gateway.Complete(ctx, prompt, provider.Options{System: systemInstruction, Temperature: 0.1})
	if err != nil {
		if errors.Is(err, core.ErrProviderUnavailable) {
			c.logger.Warn("classifier falling back to keyword heuristic", "error", err)
			return Heuristic(utterance), nil
		}
		return core.IntentResult{}, err
	}

	return parseResponse(raw), nil
}

func buildPrompt(utterance string, recalled []core.MemoryRecord) string {
	var sb strings.Builder
	sb.WriteString("Classify the user message into one of these intents:\n")
	for _, in := range core.Intents() {
		sb.WriteString("- ")
		sb.WriteString(string(in))
		sb.WriteByte('\n')
	}
	sb.WriteString("Use unknown if none apply.\n")
	if len(recalled) > 0 {
		sb.WriteString("\nRelevant prior conversation:\n")
		for _, rec := range recalled {
			sb.WriteString(rec.Text)
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("\nUser message: ")
	sb.WriteString(utterance)
	return sb.String()
}

// parseResponse extracts label|confidence|rationale from the model reply.
// Anything that does not resolve to a known label yields unknown with
// confidence 0.
func parseResponse(raw string) core.IntentResult {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}

	fields := strings.SplitN(line, "|", 3)
	label := core.ParseIntent(strings.TrimSpace(fields[0]))
	if label == core.IntentUnknown && strings.TrimSpace(fields[0]) != string(core.IntentUnknown) {
		return core.IntentResult{Label: core.IntentUnknown, Confidence: 0, Rationale: "unparseable classifier response"}
	}

	confidence := 0.0
	if len(fields) > 1 {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return core.IntentResult{Label: core.IntentUnknown, Confidence: 0, Rationale: "unparseable confidence"}
		}
		confidence = clamp(parsed)
	}

	rationale := ""
	if len(fields) > 2 {
		rationale = strings.TrimSpace(fields[2])
	}

	return core.IntentResult{Label: label, Confidence: confidence, Rationale: rationale}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// heuristicRules pairs a label with the lowercase keywords that assert it.
// Only high-precision intents participate; everything else maps to unknown.
var heuristicRules = []struct {
	label    core.Intent
	keywords []string
}{
	{core.IntentOrdersLookup, []string{"order status", "my order", "track order", "show me orders", "today's orders"}},
	{core.IntentInventoryCheck, []string{"in stock", "stock level", "inventory", "on hand"}},
	{core.IntentDebtSummary, []string{"debt", "outstanding balance", "owes", "receivable"}},
	{core.IntentSmalltalk, []string{"hello", "hi there", "good morning", "thank you", "thanks"}},
}

// Heuristic deterministically classifies an utterance by keyword matching. It
// can only ever assign unknown or a small subset of high-precision intents,
// always at HeuristicConfidence.
func Heuristic(utterance string) core.IntentResult {
	lowered := strings.ToLower(utterance)
	for _, rule := range heuristicRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return core.IntentResult{
					Label:      rule.label,
					Confidence: HeuristicConfidence,
					Rationale:  fmt.Sprintf("keyword match: %q", kw),
				}
			}
		}
	}
	return core.IntentResult{Label: core.IntentUnknown, Confidence: HeuristicConfidence, Rationale: "no keyword match"}
}
