package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stayops/concierge/internal/llm"
)

// llmSystemPrompt lists the closed intent set and pins the JSON-only
// response contract. Anything that does not parse is a failure.
const llmSystemPrompt = `You classify guest messages sent to a short-term-rental host.
Read the Korean or English message and assign exactly one intent:

- CHECKIN_QUESTION: check-in time, method, or entry availability
- CHECKOUT_QUESTION: checkout or departure time and method
- RESERVATION_CHANGE: date, party size, or stay-length change requests
- CANCELLATION: cancellation or refund questions
- COMPLAINT: facility, cleanliness, noise, or service complaints
- LOCATION_QUESTION: location, directions, or parking
- AMENITY_QUESTION: towels, bedding, supplies, wifi, facilities
- PET_POLICY_QUESTION: bringing pets, conditions, extra fees
- HOUSE_RULE_QUESTION: smoking, noise, parties, house rules
- GENERAL_QUESTION: questions not clearly in any category above
- THANKS_OR_GOOD_REVIEW: gratitude or positive feedback
- OTHER: none of the above

Answer with JSON only, no prose:

{"intent": "<intent name>", "confidence": 0.0-1.0, "reasons": ["short reason", ...]}`

// llmRawResponse is the JSON contract the model must honor.
type llmRawResponse struct {
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// classifyByLLM asks the LLM for an intent. Transport errors and
// unparseable responses degrade to a Failed outcome; the caller's merge
// keeps whatever the rule stage produced.
func classifyByLLM(ctx context.Context, client llm.Client, guestSegment, subject, snippet string) Outcome {
	if client == nil {
		return Outcome{
			Kind:       Failed,
			Intent:     Other,
			Confidence: 0,
			Reasons:    []string{"no LLM client configured"},
		}
	}

	var parts []string
	if subject != "" {
		parts = append(parts, "[Subject]\n"+subject)
	}
	if snippet != "" {
		parts = append(parts, "[Snippet]\n"+snippet)
	}
	parts = append(parts, "[Guest message]\n"+guestSegment)

	raw, err := client.Chat(ctx, llm.ChatRequest{
		System:      llmSystemPrompt,
		User:        strings.Join(parts, "\n\n"),
		Temperature: 0.2,
	})
	if err != nil {
		return Outcome{
			Kind:       Failed,
			Intent:     Other,
			Confidence: 0.3,
			Reasons:    []string{fmt.Sprintf("llm call failed: %v", err)},
		}
	}

	parsed, err := parseLLMResponse(raw)
	if err != nil {
		return Outcome{
			Kind:       Failed,
			Intent:     Other,
			Confidence: 0.3,
			Reasons:    []string{fmt.Sprintf("llm response unparseable: %v", err)},
		}
	}

	conf := parsed.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	mapped := Parse(parsed.Intent)
	reasons := append(parsed.Reasons, fmt.Sprintf("llm predicted intent=%s -> %s", parsed.Intent, mapped))

	return Outcome{
		Kind:       Confident,
		Intent:     mapped,
		Confidence: conf,
		Reasons:    reasons,
	}
}

// parseLLMResponse decodes the JSON contract, tolerating fenced code
// blocks around the object.
func parseLLMResponse(raw string) (*llmRawResponse, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '{'); i >= 0 {
		if j := strings.LastIndexByte(s, '}'); j > i {
			s = s[i : j+1]
		}
	}

	var parsed llmRawResponse
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil, fmt.Errorf("decode intent JSON: %w", err)
	}
	if parsed.Intent == "" {
		return nil, fmt.Errorf("intent field missing")
	}
	return &parsed, nil
}
