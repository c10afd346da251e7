package intent

import (
	"context"
	"log/slog"

	"github.com/stayops/concierge/internal/llm"
)

// llmThreshold is the rule-stage confidence below which the LLM stage
// is consulted.
const llmThreshold = 0.7

// Input is everything the classifier looks at.
type Input struct {
	GuestSegment string
	Subject      string
	Snippet      string
}

// Classifier is the hybrid rule + LLM intent classifier. It is a pure
// function of its inputs and the LLM client: it performs no writes.
// A nil client disables the LLM stage, leaving the deterministic rule
// stage only.
type Classifier struct {
	client llm.Client
	logger *slog.Logger
}

// NewClassifier creates a classifier. client may be nil.
func NewClassifier(client llm.Client, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{client: client, logger: logger}
}

// Classify runs the rule stage, consults the LLM stage when the rules
// are unsure, and merges the two.
//
// Merge policy: the higher-confidence stage wins. When both stages ran,
// disagree, and neither clears the threshold, the result is Ambiguous.
// Reasons from both stages are concatenated for audit.
func (c *Classifier) Classify(ctx context.Context, in Input) Outcome {
	ruleOut := classifyByRules(in.GuestSegment, in.Subject, in.Snippet)

	needLLM := ruleOut.Confidence < llmThreshold || ruleOut.Intent == Other
	if !needLLM || c.client == nil {
		return ruleOut
	}

	llmOut := classifyByLLM(ctx, c.client, in.GuestSegment, in.Subject, in.Snippet)
	if llmOut.Kind == Failed {
		// Keep the rule result but mark it untrustworthy: the stage
		// that should have resolved the doubt could not run.
		c.logger.Debug("llm intent stage failed", "reasons", llmOut.Reasons)
		merged := ruleOut
		merged.Kind = Ambiguous
		merged.Reasons = append(merged.Reasons, llmOut.Reasons...)
		return merged
	}

	return merge(ruleOut, llmOut)
}

func merge(ruleOut, llmOut Outcome) Outcome {
	primary, secondary := llmOut, ruleOut
	if ruleOut.Confidence > llmOut.Confidence {
		primary, secondary = ruleOut, llmOut
	}

	merged := Outcome{
		Kind:       Confident,
		Intent:     primary.Intent,
		Fine:       primary.Fine,
		Confidence: primary.Confidence,
		Reasons:    append(append([]string{}, ruleOut.Reasons...), llmOut.Reasons...),
	}
	if merged.Fine == FineNone {
		merged.Fine = secondary.Fine
	}

	if ruleOut.Intent != llmOut.Intent &&
		ruleOut.Confidence <= llmThreshold && llmOut.Confidence <= llmThreshold {
		merged.Kind = Ambiguous
	}
	return merged
}
