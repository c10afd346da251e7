// Package autoreply orchestrates the reply pipeline for one message:
// classify, decide, build context, draft, gate, send, log. It owns the
// AutoReplyLog lifecycle and the approval feedback loop that trains
// the auto-send gate.
package autoreply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/stayops/concierge/internal/action"
	"github.com/stayops/concierge/internal/autosend"
	"github.com/stayops/concierge/internal/events"
	"github.com/stayops/concierge/internal/faq"
	"github.com/stayops/concierge/internal/fewshot"
	"github.com/stayops/concierge/internal/intent"
	"github.com/stayops/concierge/internal/llm"
	"github.com/stayops/concierge/internal/mailbox"
	"github.com/stayops/concierge/internal/replyctx"
	"github.com/stayops/concierge/internal/store"
)

// Sender delivers composed replies. Satisfied by the mailbox client.
type Sender interface {
	Send(ctx context.Context, out mailbox.Outgoing) (string, error)
}

// Options tune one Suggest call.
type Options struct {
	// Force produces a new suggestion even when one already exists.
	// The prior log is left intact.
	Force bool
	// UseLLM overrides the service default when non-nil.
	UseLLM *bool
	// PropertyCode overrides the message's resolved property.
	PropertyCode string
	// Locale overrides the profile locale for template lookup.
	Locale string
}

// Service is the auto-reply orchestrator.
type Service struct {
	store      *store.Store
	classifier *intent.Classifier
	builder    *replyctx.Builder
	retriever  *fewshot.Retriever // nil disables few-shot
	client     llm.Client         // nil disables LLM drafting
	gate       *autosend.Gate
	bus        *events.Bus
	sender     Sender // nil disables sending
	from       string
	useLLM     bool
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[int64]*sync.Mutex
}

// Config wires a Service.
type Config struct {
	Store      *store.Store
	Classifier *intent.Classifier
	Builder    *replyctx.Builder
	Retriever  *fewshot.Retriever
	LLM        llm.Client
	Gate       *autosend.Gate
	Bus        *events.Bus
	Sender     Sender
	From       string
	UseLLM     bool
	Logger     *slog.Logger
}

// NewService creates the orchestrator.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      cfg.Store,
		classifier: cfg.Classifier,
		builder:    cfg.Builder,
		retriever:  cfg.Retriever,
		client:     cfg.LLM,
		gate:       cfg.Gate,
		bus:        cfg.Bus,
		sender:     cfg.Sender,
		from:       cfg.From,
		useLLM:     cfg.UseLLM,
		logger:     logger,
	}
}

// messageLock returns the per-message mutex, creating it on demand.
// At most one draft runs concurrently per message id.
func (s *Service) messageLock(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == nil {
		s.inflight = make(map[int64]*sync.Mutex)
	}
	if m, ok := s.inflight[id]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.inflight[id] = m
	return m
}

// Suggest produces (or returns) the auto-reply suggestion for one
// message. Returns (nil, nil) for messages that do not need a reply.
func (s *Service) Suggest(ctx context.Context, messageID int64, opts Options) (*store.AutoReplyLog, error) {
	lock := s.messageLock(messageID)
	lock.Lock()
	defer lock.Unlock()

	msg, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	if msg.Actionability != "NEEDS_REPLY" {
		return nil, nil
	}

	// Idempotence: a prior suggestion is returned unless forced.
	if !opts.Force {
		if existing, err := s.store.LatestReplyLogForMessage(messageID); err == nil {
			return existing, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	outcome, err := s.ensureIntent(ctx, msg)
	if err != nil {
		return nil, err
	}

	decision := action.Decide(outcome)
	propertyCode := opts.PropertyCode
	if propertyCode == "" {
		propertyCode = msg.PropertyCode
	}

	bundle, err := s.builder.Build(msg, outcome.Intent, propertyCode)
	if err != nil {
		return nil, err
	}
	if opts.Locale != "" {
		bundle.Locale = opts.Locale
	}

	keys := faq.Strings(faq.ForIntent(outcome.Intent, outcome.Fine))

	log := &store.AutoReplyLog{
		MessageID:        msg.ID,
		PropertyCode:     propertyCode,
		OTA:              msg.OTA,
		Intent:           string(outcome.Intent),
		FineIntent:       string(outcome.Fine),
		IntentConfidence: outcome.Confidence,
		FAQKeys:          keys,
		SendMode:         store.SendHITL,
	}

	if decision.BlockAutoReply {
		log.GenerationMode = store.GenFallback
		log.ReplyText = genericFallback(bundle.Locale)
		log.FailureReason = "blocked: " + decision.Reason
		if err := s.store.InsertReplyLog(log); err != nil {
			return nil, err
		}
		s.publishSuggestion(log, decision)
		return log, nil
	}

	useLLM := s.useLLM
	if opts.UseLLM != nil {
		useLLM = *opts.UseLLM
	}

	text, genMode, draftErr := s.draft(ctx, bundle, outcome, useLLM)
	log.ReplyText = text
	log.GenerationMode = genMode
	if draftErr != nil {
		log.FailureReason = draftErr.Error()
	}

	// Autopilot needs: an auto-reply decision, a healthy draft, and a
	// track record for every FAQ key the draft used.
	if decision.Action == action.AutoReply && decision.AllowAutoSend &&
		draftErr == nil && genMode != store.GenFallback {
		eligible, err := s.gate.Eligible(propertyCode, keys)
		if err != nil {
			return nil, err
		}
		if eligible {
			log.SendMode = store.SendAutopilot
			log.AllowAutoSend = true
		}
	}

	if err := s.store.InsertReplyLog(log); err != nil {
		return nil, err
	}

	if log.SendMode == store.SendAutopilot {
		s.send(ctx, msg, log, log.ReplyText)
	}

	s.publishSuggestion(log, decision)
	return log, nil
}

// ensureIntent returns the message's classification, running the
// classifier and persisting the result (with a SYSTEM label) when the
// message has none yet.
func (s *Service) ensureIntent(ctx context.Context, msg *store.IngestedMessage) (intent.Outcome, error) {
	if msg.Intent != "" {
		return intent.Outcome{
			Kind:       intent.Confident,
			Intent:     intent.Parse(msg.Intent),
			Fine:       intent.FineIntent(msg.FineIntent),
			Confidence: msg.IntentConfidence,
		}, nil
	}

	outcome := s.classifier.Classify(ctx, intent.Input{
		GuestSegment: msg.GuestSegment,
		Subject:      msg.Subject,
	})
	decision := action.Decide(outcome)

	if err := s.store.SetIntent(msg.ID, string(outcome.Intent), string(outcome.Fine),
		outcome.Confidence, string(decision.Action)); err != nil {
		return outcome, err
	}
	if _, err := s.store.AppendLabel(msg.ID, string(outcome.Intent), "SYSTEM"); err != nil {
		return outcome, err
	}

	msg.Intent = string(outcome.Intent)
	msg.FineIntent = string(outcome.Fine)
	msg.IntentConfidence = outcome.Confidence
	return outcome, nil
}

// draft produces the reply text: LLM first (optionally with few-shot),
// then the (intent, locale) template, then the generic fallback.
func (s *Service) draft(ctx context.Context, bundle *replyctx.Bundle, outcome intent.Outcome, useLLM bool) (string, string, error) {
	var llmErr error

	if useLLM && s.client != nil {
		fewShotBlock := ""
		if s.retriever != nil {
			block, err := s.retriever.FewShotBlock(ctx, bundle.Message.GuestSegment, bundlePropertyCode(bundle), 3)
			if err != nil {
				// Retrieval is an optimization; drafting continues.
				s.logger.Warn("few-shot retrieval failed", "error", err)
			} else {
				fewShotBlock = block
			}
		}

		text, err := s.draftWithLLM(ctx, bundle, fewShotBlock)
		if err == nil {
			mode := store.GenLLM
			if fewShotBlock != "" {
				mode = store.GenLLMWithFewShot
			}
			return text, mode, nil
		}
		llmErr = fmt.Errorf("llm draft failed: %w", err)
		s.logger.Warn("llm draft failed, falling back", "error", err)
	}

	if text, err := renderTemplate(s.store, string(outcome.Intent), bundle); err == nil {
		return text, store.GenTemplate, llmErr
	}

	return genericFallback(bundle.Locale), store.GenFallback, llmErr
}

// draftSystemPrompt pins tone and format for reply drafting.
const draftSystemPrompt = `You draft replies for a short-term-rental host answering guest messages.
Write in the guest's language (Korean or English). Be warm, concise, and concrete.
Use ONLY facts from the provided property context; never invent amenities, times, or policies.
If the context lacks the answer, say the host will confirm shortly.
End with a short polite close. Output the reply text only — no subject line, no quotes, no markdown.`

func (s *Service) draftWithLLM(ctx context.Context, bundle *replyctx.Bundle, fewShotBlock string) (string, error) {
	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal context bundle: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("[Context]\n")
	sb.Write(bundleJSON)
	if fewShotBlock != "" {
		sb.WriteString("\n\n[")
		sb.WriteString(strings.TrimSpace(fewShotBlock))
		sb.WriteString("]")
	}
	sb.WriteString("\n\n[Guest message]\n")
	sb.WriteString(bundle.Message.GuestSegment)

	text, err := s.client.Chat(ctx, llm.ChatRequest{
		System:      draftSystemPrompt,
		User:        sb.String(),
		Temperature: 0.4,
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("llm returned empty draft")
	}
	return text, nil
}

// send composes and delivers the reply, then records the outcome. Send
// failures leave sent=false with a failure reason; they do not fail
// the suggestion.
func (s *Service) send(ctx context.Context, msg *store.IngestedMessage, log *store.AutoReplyLog, text string) {
	raw, err := mailbox.ComposeReply(mailbox.ReplyOptions{
		From:      s.from,
		To:        msg.From,
		Subject:   msg.Subject,
		Body:      text,
		InReplyTo: threadingID(msg.ThreadID),
	})
	if err != nil {
		s.recordSendFailure(log, fmt.Errorf("compose reply: %w", err))
		return
	}

	if s.sender == nil {
		s.recordSendFailure(log, errors.New("no sender configured"))
		return
	}

	_, err = s.sender.Send(ctx, mailbox.Outgoing{
		Raw:        raw,
		ThreadID:   msg.ThreadID,
		Recipients: []string{bareAddress(msg.From)},
	})
	if err != nil {
		s.recordSendFailure(log, fmt.Errorf("send reply: %w", err))
		return
	}

	now := time.Now().UTC()
	if err := s.store.MarkReplySent(log.ID, now); err != nil {
		s.logger.Error("mark sent failed", "log_id", log.ID, "error", err)
		return
	}
	if err := s.store.AdvanceLastAutoReplyAt(log.MessageID, now); err != nil {
		s.logger.Error("advance last_auto_reply_at failed", "message_id", log.MessageID, "error", err)
	}
	log.Sent = true
	log.SentAt = now
}

func (s *Service) recordSendFailure(log *store.AutoReplyLog, err error) {
	s.logger.Warn("auto-send failed", "log_id", log.ID, "error", err)
	log.FailureReason = err.Error()
	if dbErr := s.store.MarkReplyFailure(log.ID, err.Error()); dbErr != nil {
		s.logger.Error("record send failure", "log_id", log.ID, "error", dbErr)
	}
}

// Approve records operator feedback on a suggestion: an unedited
// approval or an edit with replacement text. Both train the auto-send
// gate and archive the final answer for few-shot retrieval; the final
// text is sent when the suggestion has not gone out yet.
func (s *Service) Approve(ctx context.Context, logID, editedText, operator string) (*store.AutoReplyLog, error) {
	log, err := s.store.GetReplyLog(logID)
	if err != nil {
		return nil, err
	}

	edited := editedText != "" && editedText != log.ReplyText
	finalText := log.ReplyText
	if edited {
		if err := s.store.MarkReplyEdited(logID, editedText); err != nil {
			return nil, err
		}
		finalText = editedText
		if err := s.gate.RecordEdited(log.PropertyCode, log.FAQKeys); err != nil {
			return nil, err
		}
	} else {
		if err := s.gate.RecordApproved(log.PropertyCode, log.FAQKeys); err != nil {
			return nil, err
		}
	}

	if s.retriever != nil {
		msg, err := s.store.GetMessage(log.MessageID)
		if err == nil && msg.GuestSegment != "" {
			if err := s.retriever.StoreApproved(ctx, msg.GuestSegment, finalText,
				log.PropertyCode, edited, log.ID); err != nil {
				s.logger.Warn("archive approved answer failed", "log_id", logID, "error", err)
			}
		}
	}

	if !log.Sent {
		msg, err := s.store.GetMessage(log.MessageID)
		if err != nil {
			return nil, err
		}
		s.send(ctx, msg, log, finalText)
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Source: events.SourceOperator,
			Kind:   events.KindRefresh,
			Data:   map[string]any{"scope": "conversations", "reason": "approval", "by": operator},
		})
	}

	return s.store.GetReplyLog(logID)
}

func (s *Service) publishSuggestion(log *store.AutoReplyLog, decision action.Decision) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Source: events.SourceAutoReply,
		Kind:   events.KindSuggestion,
		Data: map[string]any{
			"message_id": log.MessageID,
			"log_id":     log.ID,
			"send_mode":  log.SendMode,
			"sent":       log.Sent,
		},
	})
	if decision.EscalationLevel >= 2 {
		s.bus.Publish(events.Event{
			Source: events.SourceAutoReply,
			Kind:   events.KindStaffAlert,
			Data: map[string]any{
				"message_id":       log.MessageID,
				"intent":           log.Intent,
				"escalation_level": decision.EscalationLevel,
			},
		})
	}
	s.bus.Publish(events.Event{
		Source: events.SourceAutoReply,
		Kind:   events.KindRefresh,
		Data:   map[string]any{"scope": "conversations", "reason": "suggestion"},
	})
}

func bundlePropertyCode(b *replyctx.Bundle) string {
	if b.Property == nil {
		return ""
	}
	return b.Property.PropertyCode
}

// threadingID returns the thread key as an In-Reply-To candidate when
// it is an RFC 5322 message id; provider-opaque thread ids are not
// valid threading headers.
func threadingID(threadID string) string {
	if strings.Contains(threadID, "@") {
		return threadID
	}
	return ""
}

// bareAddress strips a display name from "Name <addr>".
func bareAddress(s string) string {
	if i := strings.LastIndexByte(s, '<'); i >= 0 {
		if j := strings.IndexByte(s[i:], '>'); j > 0 {
			return s[i+1 : i+j]
		}
	}
	return s
}
