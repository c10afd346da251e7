package autoreply

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stayops/concierge/internal/autosend"
	"github.com/stayops/concierge/internal/events"
	"github.com/stayops/concierge/internal/intent"
	"github.com/stayops/concierge/internal/llm"
	"github.com/stayops/concierge/internal/mailbox"
	"github.com/stayops/concierge/internal/replyctx"
	"github.com/stayops/concierge/internal/store"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) Ping(ctx context.Context) error { return f.err }

type fakeSender struct {
	sent []mailbox.Outgoing
	err  error
}

func (f *fakeSender) Send(ctx context.Context, out mailbox.Outgoing) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, out)
	return "out-1", nil
}

type fixture struct {
	store   *store.Store
	gate    *autosend.Gate
	bus     *events.Bus
	sender  *fakeSender
	llm     *fakeLLM
	service *Service
}

func newFixture(t *testing.T, llmClient *fakeLLM) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	err = st.UpsertProfile(&store.PropertyProfile{
		PropertyCode:  "GONG-101",
		Name:          "공릉 101호",
		Locale:        "ko",
		CheckinFrom:   "14:00",
		CheckinTo:     "22:00",
		CheckoutUntil: "11:00",
		AccessGuide:   "공동현관 #1234",
		LocationGuide: "공릉역 도보 5분",
		HouseRules:    "실내 금연",
		Active:        true,
	})
	if err != nil {
		t.Fatal(err)
	}

	gate := autosend.NewGate(st, store.Thresholds{MinTotal: 5, MinRate: 0.8}, nil)
	bus := events.NewBus()
	sender := &fakeSender{}

	var client llm.Client
	if llmClient != nil {
		client = llmClient
	}

	svc := NewService(Config{
		Store:      st,
		Classifier: intent.NewClassifier(nil, nil),
		Builder:    replyctx.NewBuilder(st, nil),
		LLM:        client,
		Gate:       gate,
		Bus:        bus,
		Sender:     sender,
		From:       "Stay Ops <ops@example.com>",
		UseLLM:     llmClient != nil,
	})

	return &fixture{store: st, gate: gate, bus: bus, sender: sender, llm: llmClient, service: svc}
}

func (fx *fixture) insertGuestMessage(t *testing.T, externalID, segment string) int64 {
	t.Helper()
	id, err := fx.store.InsertMessage(&store.IngestedMessage{
		ExternalID:    externalID,
		ThreadID:      "thread-" + externalID + "@mail.airbnb.com",
		ReceivedAt:    time.Now().UTC(),
		From:          "Guest Relay <relay@guest.airbnb.com>",
		Subject:       "Airbnb: new message",
		GuestSegment:  segment,
		SenderActor:   "GUEST",
		Actionability: "NEEDS_REPLY",
		OTA:           "AIRBNB",
		PropertyCode:  "GONG-101",
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

// Scenario 1: a check-in question drafts an LLM reply mentioning the
// check-in window; send mode follows gate eligibility.
func TestSuggestCheckinQuestion(t *testing.T) {
	f := &fakeLLM{response: "안녕하세요! 체크인은 14:00부터 가능합니다. 감사합니다."}
	fx := newFixture(t, f)
	id := fx.insertGuestMessage(t, "m1", "체크인 몇 시부터 가능한가요?")

	log, err := fx.service.Suggest(context.Background(), id, Options{})
	if err != nil {
		t.Fatalf("Suggest() error: %v", err)
	}
	if log == nil {
		t.Fatal("Suggest() returned nil for NEEDS_REPLY message")
	}

	if log.Intent != "CHECKIN_QUESTION" {
		t.Errorf("Intent = %q", log.Intent)
	}
	if log.IntentConfidence < 0.7 {
		t.Errorf("IntentConfidence = %v, want >= 0.7", log.IntentConfidence)
	}
	if !strings.Contains(log.ReplyText, "14:00") {
		t.Errorf("ReplyText = %q, want mention of 14:00", log.ReplyText)
	}
	if log.GenerationMode != store.GenLLM {
		t.Errorf("GenerationMode = %q, want LLM", log.GenerationMode)
	}
	// No approval track record yet: HITL.
	if log.SendMode != store.SendHITL || log.Sent {
		t.Errorf("SendMode/Sent = %q/%v, want HITL/false", log.SendMode, log.Sent)
	}
	if len(log.FAQKeys) == 0 || log.FAQKeys[0] != "checkin_info" {
		t.Errorf("FAQKeys = %v", log.FAQKeys)
	}

	// A SYSTEM label was appended during classification.
	history, _ := fx.store.LabelHistory(id)
	if len(history) != 1 || history[0].Source != "SYSTEM" || history[0].Intent != "CHECKIN_QUESTION" {
		t.Errorf("label history = %+v", history)
	}
}

func TestSuggestAutopilotWhenGateEligible(t *testing.T) {
	f := &fakeLLM{response: "체크인은 14:00부터 가능합니다."}
	fx := newFixture(t, f)
	id := fx.insertGuestMessage(t, "m2", "체크인 몇 시부터 가능한가요?")

	// Build a qualifying track record for the key the draft will use.
	for range 5 {
		if err := fx.gate.RecordApproved("GONG-101", []string{"checkin_info"}); err != nil {
			t.Fatal(err)
		}
	}

	log, err := fx.service.Suggest(context.Background(), id, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if log.SendMode != store.SendAutopilot || !log.AllowAutoSend {
		t.Errorf("SendMode/AllowAutoSend = %q/%v, want AUTOPILOT/true", log.SendMode, log.AllowAutoSend)
	}
	if !log.Sent || log.SentAt.IsZero() {
		t.Errorf("Sent/SentAt = %v/%v, want sent with timestamp", log.Sent, log.SentAt)
	}
	if len(fx.sender.sent) != 1 {
		t.Fatalf("sender deliveries = %d, want 1", len(fx.sender.sent))
	}
	out := fx.sender.sent[0]
	if len(out.Recipients) != 1 || out.Recipients[0] != "relay@guest.airbnb.com" {
		t.Errorf("Recipients = %v", out.Recipients)
	}
	if !strings.Contains(string(out.Raw), "Re: Airbnb: new message") {
		t.Error("composed reply missing Re: subject")
	}

	// The message's bookkeeping advanced.
	m, _ := fx.store.GetMessage(id)
	if m.LastAutoReplyAt.IsZero() {
		t.Error("last_auto_reply_at not advanced after send")
	}
}

// Scenario 2: complaints escalate; the suggestion is HITL, unsent, and
// a staff alert plus refresh event go out on the bus.
func TestSuggestComplaintEscalates(t *testing.T) {
	fx := newFixture(t, nil)
	id := fx.insertGuestMessage(t, "m3", "The bathroom is filthy and the AC is broken.")

	ch := fx.bus.Subscribe(16)
	defer fx.bus.Unsubscribe(ch)

	log, err := fx.service.Suggest(context.Background(), id, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if log.Intent != "COMPLAINT" {
		t.Errorf("Intent = %q", log.Intent)
	}
	if log.SendMode != store.SendHITL || log.Sent {
		t.Errorf("SendMode/Sent = %q/%v, want HITL/false", log.SendMode, log.Sent)
	}
	if log.AllowAutoSend {
		t.Error("AllowAutoSend = true for complaint")
	}

	kinds := map[string]bool{}
	deadline := time.After(time.Second)
	for len(kinds) < 3 {
		select {
		case e := <-ch:
			kinds[e.Kind] = true
		case <-deadline:
			t.Fatalf("events seen: %v, want suggestion, staff_alert, refresh", kinds)
		}
	}
	if !kinds[events.KindStaffAlert] || !kinds[events.KindRefresh] || !kinds[events.KindSuggestion] {
		t.Errorf("events = %v", kinds)
	}
}

// Scenario 6: with the LLM failing and no template seeded, the
// suggestion degrades to the generic fallback and stays HITL even
// with a qualifying gate record.
func TestSuggestLLMFailureFallsBack(t *testing.T) {
	f := &fakeLLM{err: errors.New("llm down")}
	fx := newFixture(t, f)
	id := fx.insertGuestMessage(t, "m4", "체크인 몇 시부터 가능한가요?")

	for range 5 {
		if err := fx.gate.RecordApproved("GONG-101", []string{"checkin_info"}); err != nil {
			t.Fatal(err)
		}
	}

	log, err := fx.service.Suggest(context.Background(), id, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if log.GenerationMode != store.GenFallback {
		t.Errorf("GenerationMode = %q, want FALLBACK", log.GenerationMode)
	}
	if log.ReplyText != genericFallback("ko") {
		t.Errorf("ReplyText = %q, want generic ko fallback", log.ReplyText)
	}
	if log.SendMode != store.SendHITL || log.Sent {
		t.Errorf("SendMode/Sent = %q/%v, want HITL/false despite eligible gate", log.SendMode, log.Sent)
	}
	if log.FailureReason == "" {
		t.Error("FailureReason empty, want llm failure recorded")
	}
}

// LLM failure with a seeded template lands on the template, still HITL.
func TestSuggestLLMFailureUsesTemplate(t *testing.T) {
	f := &fakeLLM{err: errors.New("llm down")}
	fx := newFixture(t, f)
	if err := fx.store.SeedDefaultTemplates(); err != nil {
		t.Fatal(err)
	}
	id := fx.insertGuestMessage(t, "m5", "체크인 몇 시부터 가능한가요?")

	log, err := fx.service.Suggest(context.Background(), id, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if log.GenerationMode != store.GenTemplate {
		t.Errorf("GenerationMode = %q, want TEMPLATE", log.GenerationMode)
	}
	if !strings.Contains(log.ReplyText, "14:00") {
		t.Errorf("ReplyText = %q, want filled checkin_from", log.ReplyText)
	}
	if log.SendMode != store.SendHITL {
		t.Errorf("SendMode = %q, want HITL after llm failure", log.SendMode)
	}
}

func TestSuggestIdempotentUnlessForced(t *testing.T) {
	f := &fakeLLM{response: "답변입니다."}
	fx := newFixture(t, f)
	id := fx.insertGuestMessage(t, "m6", "체크인 몇 시부터 가능한가요?")

	first, err := fx.service.Suggest(context.Background(), id, Options{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := fx.service.Suggest(context.Background(), id, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("repeat Suggest created new log %s, want existing %s", second.ID, first.ID)
	}
	if f.calls != 1 {
		t.Errorf("llm calls = %d, want 1", f.calls)
	}

	forced, err := fx.service.Suggest(context.Background(), id, Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if forced.ID == first.ID {
		t.Error("forced Suggest returned prior log, want new one")
	}
	// The prior log is left intact.
	if _, err := fx.store.GetReplyLog(first.ID); err != nil {
		t.Errorf("prior log gone after force: %v", err)
	}
}

func TestSuggestSkipsNonNeedsReply(t *testing.T) {
	fx := newFixture(t, nil)
	id, err := fx.store.InsertMessage(&store.IngestedMessage{
		ExternalID:    "sys-1",
		ReceivedAt:    time.Now().UTC(),
		SenderActor:   "SYSTEM",
		Actionability: "SYSTEM_NOTIFICATION",
		OTA:           "AIRBNB",
	})
	if err != nil {
		t.Fatal(err)
	}

	log, err := fx.service.Suggest(context.Background(), id, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if log != nil {
		t.Errorf("Suggest() = %+v for system notification, want nil", log)
	}
}

func TestSuggestThanksBlocked(t *testing.T) {
	fx := newFixture(t, nil)
	id := fx.insertGuestMessage(t, "m7", "잘 지냈습니다 감사합니다!")

	log, err := fx.service.Suggest(context.Background(), id, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if log.GenerationMode != store.GenFallback || log.SendMode != store.SendHITL || log.Sent {
		t.Errorf("blocked suggestion = mode %q send %q sent %v", log.GenerationMode, log.SendMode, log.Sent)
	}
	if !strings.Contains(log.FailureReason, "blocked") {
		t.Errorf("FailureReason = %q, want blocked reason", log.FailureReason)
	}
}

func TestApproveUneditedSendsAndTrainsGate(t *testing.T) {
	f := &fakeLLM{response: "체크인은 14:00부터 가능합니다."}
	fx := newFixture(t, f)
	id := fx.insertGuestMessage(t, "m8", "체크인 몇 시부터 가능한가요?")

	log, err := fx.service.Suggest(context.Background(), id, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if log.Sent {
		t.Fatal("log already sent, expected HITL draft")
	}

	got, err := fx.service.Approve(context.Background(), log.ID, "", "operator-kim")
	if err != nil {
		t.Fatalf("Approve() error: %v", err)
	}
	if !got.Sent {
		t.Error("approved log not sent")
	}
	if got.Edited {
		t.Error("unedited approval marked edited")
	}

	st, err := fx.store.GetAutoSendStats("GONG-101", "checkin_info")
	if err != nil {
		t.Fatalf("stats missing after approval: %v", err)
	}
	if st.TotalCount != 1 || st.ApprovedCount != 1 {
		t.Errorf("stats = %+v, want total=1 approved=1", st)
	}
}

func TestApproveEditedTrainsGateAsMiss(t *testing.T) {
	f := &fakeLLM{response: "원래 답변"}
	fx := newFixture(t, f)
	id := fx.insertGuestMessage(t, "m9", "체크인 몇 시부터 가능한가요?")

	log, err := fx.service.Suggest(context.Background(), id, Options{})
	if err != nil {
		t.Fatal(err)
	}

	got, err := fx.service.Approve(context.Background(), log.ID, "수정된 답변입니다.", "operator-kim")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Edited || got.EditedText != "수정된 답변입니다." {
		t.Errorf("edited = %v/%q", got.Edited, got.EditedText)
	}

	st, err := fx.store.GetAutoSendStats("GONG-101", "checkin_info")
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalCount != 1 || st.EditedCount != 1 || st.ApprovedCount != 0 {
		t.Errorf("stats = %+v, want total=1 edited=1", st)
	}

	// The approval delivered exactly one message.
	if len(fx.sender.sent) != 1 {
		t.Errorf("sender deliveries = %d, want 1", len(fx.sender.sent))
	}
	if !got.Sent {
		t.Error("approved log not sent")
	}
}
