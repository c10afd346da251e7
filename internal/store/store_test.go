package store

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "concierge.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleMessage(externalID string) *IngestedMessage {
	return &IngestedMessage{
		ExternalID:    externalID,
		ThreadID:      "thread-1",
		ReceivedAt:    time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		From:          "Airbnb <express@airbnb.com>",
		Subject:       "Airbnb: new message",
		TextBody:      "body",
		GuestSegment:  "체크인 몇 시부터 가능한가요?",
		SenderActor:   "GUEST",
		Actionability: "NEEDS_REPLY",
		OTA:           "AIRBNB",
		PropertyCode:  "GONG-101",
	}
}

// P1: ingesting the same external id twice yields exactly one row.
func TestInsertMessageDuplicate(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.InsertMessage(sampleMessage("ext-1")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := s.InsertMessage(sampleMessage("ext-1"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second insert error = %v, want ErrDuplicate", err)
	}

	exists, err := s.MessageExists("ext-1")
	if err != nil || !exists {
		t.Errorf("MessageExists = (%v, %v), want (true, nil)", exists, err)
	}

	m, err := s.GetMessageByExternalID("ext-1")
	if err != nil {
		t.Fatalf("GetMessageByExternalID: %v", err)
	}
	if m.GuestSegment != "체크인 몇 시부터 가능한가요?" {
		t.Errorf("GuestSegment = %q", m.GuestSegment)
	}
}

// P2: actor and actionability are immutable once set.
func TestClassificationImmutable(t *testing.T) {
	s := openTestStore(t)

	m := sampleMessage("ext-2")
	m.SenderActor = "UNKNOWN"
	m.Actionability = "UNKNOWN"
	id, err := s.InsertMessage(m)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetClassification(id, "GUEST", "NEEDS_REPLY"); err != nil {
		t.Fatalf("first classification: %v", err)
	}

	// Same values are a no-op, not an error.
	if err := s.SetClassification(id, "GUEST", "NEEDS_REPLY"); err != nil {
		t.Errorf("idempotent reclassification: %v", err)
	}

	// Changing either field is rejected.
	if err := s.SetClassification(id, "HOST", "OUTGOING_COPY"); !errors.Is(err, ErrImmutable) {
		t.Errorf("reclassification error = %v, want ErrImmutable", err)
	}

	got, err := s.GetMessage(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.SenderActor != "GUEST" || got.Actionability != "NEEDS_REPLY" {
		t.Errorf("classification = (%s, %s), want unchanged", got.SenderActor, got.Actionability)
	}
}

func TestSetClassificationValidatesEnums(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertMessage(sampleMessage("ext-3"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetClassification(id, "ALIEN", "NEEDS_REPLY"); err == nil {
		t.Error("SetClassification accepted invalid actor")
	}
}

// P3: label history is append-only and ordered.
func TestLabelHistoryMonotone(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertMessage(sampleMessage("ext-4"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.AppendLabel(id, "GENERAL_QUESTION", "SYSTEM"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendLabel(id, "LOCATION_QUESTION", "HUMAN"); err != nil {
		t.Fatal(err)
	}

	history, err := s.LabelHistory(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Intent != "GENERAL_QUESTION" || history[0].Source != "SYSTEM" {
		t.Errorf("history[0] = (%s, %s)", history[0].Intent, history[0].Source)
	}
	if history[1].Intent != "LOCATION_QUESTION" || history[1].Source != "HUMAN" {
		t.Errorf("history[1] = (%s, %s)", history[1].Intent, history[1].Source)
	}
	if history[1].CreatedAt.Before(history[0].CreatedAt) {
		t.Error("history not ordered by created_at")
	}
}

func TestAppendLabelRejectsUnknownSource(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertMessage(sampleMessage("ext-5"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendLabel(id, "OTHER", "ROBOT"); err == nil {
		t.Error("AppendLabel accepted invalid source")
	}
}

// P4: sent transitions only false->true, and sent_at is set iff sent.
func TestReplyLogSendMonotone(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertMessage(sampleMessage("ext-6"))
	if err != nil {
		t.Fatal(err)
	}

	l := &AutoReplyLog{
		MessageID:      id,
		PropertyCode:   "GONG-101",
		OTA:            "AIRBNB",
		Intent:         "CHECKIN_QUESTION",
		GenerationMode: GenLLM,
		ReplyText:      "체크인은 14:00부터 가능합니다.",
		SendMode:       SendAutopilot,
		FAQKeys:        []string{"checkin_info"},
		AllowAutoSend:  true,
	}
	if err := s.InsertReplyLog(l); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetReplyLog(l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Sent || !got.SentAt.IsZero() {
		t.Errorf("fresh log sent = (%v, %v), want unsent with zero sent_at", got.Sent, got.SentAt)
	}
	if len(got.FAQKeys) != 1 || got.FAQKeys[0] != "checkin_info" {
		t.Errorf("FAQKeys = %v", got.FAQKeys)
	}

	sentAt := time.Now().UTC().Truncate(time.Second)
	if err := s.MarkReplySent(l.ID, sentAt); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetReplyLog(l.ID)
	if !got.Sent || got.SentAt.IsZero() {
		t.Errorf("after send: sent = (%v, %v)", got.Sent, got.SentAt)
	}

	// Marking again must not move sent_at.
	if err := s.MarkReplySent(l.ID, sentAt.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	again, _ := s.GetReplyLog(l.ID)
	if !again.SentAt.Equal(got.SentAt) {
		t.Errorf("sent_at moved from %v to %v", got.SentAt, again.SentAt)
	}
}

func TestInsertReplyLogAdvancesMessageBookkeeping(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertMessage(sampleMessage("ext-7"))
	if err != nil {
		t.Fatal(err)
	}

	before, _ := s.ListNeedsReplyWithoutAutoReply(10)
	if len(before) != 1 {
		t.Fatalf("pending before = %d, want 1", len(before))
	}

	l := &AutoReplyLog{MessageID: id, OTA: "AIRBNB", Intent: "CHECKIN_QUESTION",
		GenerationMode: GenTemplate, ReplyText: "t", SendMode: SendHITL}
	if err := s.InsertReplyLog(l); err != nil {
		t.Fatal(err)
	}

	after, _ := s.ListNeedsReplyWithoutAutoReply(10)
	if len(after) != 0 {
		t.Errorf("pending after = %d, want 0", len(after))
	}

	m, _ := s.GetMessage(id)
	if m.LastAutoReplyAt.IsZero() {
		t.Error("last_auto_reply_at not advanced")
	}
}

func TestMarkReplyEditedRequiresText(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.InsertMessage(sampleMessage("ext-8"))
	l := &AutoReplyLog{MessageID: id, OTA: "AIRBNB", Intent: "OTHER",
		GenerationMode: GenFallback, ReplyText: "t", SendMode: SendHITL}
	if err := s.InsertReplyLog(l); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkReplyEdited(l.ID, ""); err == nil {
		t.Error("MarkReplyEdited accepted empty text")
	}
	if err := s.MarkReplyEdited(l.ID, "수정된 답변"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetReplyLog(l.ID)
	if !got.Edited || got.EditedText != "수정된 답변" {
		t.Errorf("edited = (%v, %q)", got.Edited, got.EditedText)
	}
}

// P5 plus scenario 5: the eligibility formula and its trajectory.
func TestAutoSendStatsTrajectory(t *testing.T) {
	s := openTestStore(t)
	th := Thresholds{MinTotal: 5, MinRate: 0.8}
	keys := []string{"CHECKIN_INFO"}

	// Four approvals: below the sample minimum.
	for range 4 {
		if err := s.RecordAutoSendOutcome("P", keys, true, th); err != nil {
			t.Fatal(err)
		}
	}
	st, err := s.GetAutoSendStats("P", "CHECKIN_INFO")
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalCount != 4 || st.Eligible {
		t.Errorf("after 4 approvals: total=%d eligible=%v, want 4/false", st.TotalCount, st.Eligible)
	}

	// Fifth approval: total=5, rate=1.0, eligible.
	if err := s.RecordAutoSendOutcome("P", keys, true, th); err != nil {
		t.Fatal(err)
	}
	st, _ = s.GetAutoSendStats("P", "CHECKIN_INFO")
	if st.TotalCount != 5 || st.ApprovalRate != 1.0 || !st.Eligible {
		t.Errorf("after 5 approvals: %+v, want total=5 rate=1 eligible", st)
	}

	// One edit: total=6, rate=5/6, still eligible.
	if err := s.RecordAutoSendOutcome("P", keys, false, th); err != nil {
		t.Fatal(err)
	}
	st, _ = s.GetAutoSendStats("P", "CHECKIN_INFO")
	if st.TotalCount != 6 || math.Abs(st.ApprovalRate-5.0/6.0) > 1e-9 || !st.Eligible {
		t.Errorf("after 1 edit: %+v, want total=6 rate=5/6 eligible", st)
	}

	// Second edit: total=7, rate=5/7, no longer eligible.
	if err := s.RecordAutoSendOutcome("P", keys, false, th); err != nil {
		t.Fatal(err)
	}
	st, _ = s.GetAutoSendStats("P", "CHECKIN_INFO")
	if st.TotalCount != 7 || math.Abs(st.ApprovalRate-5.0/7.0) > 1e-9 || st.Eligible {
		t.Errorf("after 2 edits: %+v, want total=7 rate=5/7 not eligible", st)
	}

	if st.ApprovalRate < 0 || st.ApprovalRate > 1 {
		t.Errorf("approval rate %v outside [0,1]", st.ApprovalRate)
	}
}

func TestAutoSendEligibleAllKeys(t *testing.T) {
	s := openTestStore(t)
	th := Thresholds{MinTotal: 5, MinRate: 0.8}

	for range 5 {
		if err := s.RecordAutoSendOutcome("P", []string{"checkin_info"}, true, th); err != nil {
			t.Fatal(err)
		}
	}

	ok, err := s.AutoSendEligible("P", []string{"checkin_info"})
	if err != nil || !ok {
		t.Errorf("eligible single key = (%v, %v), want true", ok, err)
	}

	// A key with no track record blocks eligibility.
	ok, err = s.AutoSendEligible("P", []string{"checkin_info", "wifi_info"})
	if err != nil || ok {
		t.Errorf("eligible with unknown key = (%v, %v), want false", ok, err)
	}

	// Empty inputs are never eligible.
	if ok, _ := s.AutoSendEligible("", []string{"checkin_info"}); ok {
		t.Error("eligible with empty property code")
	}
	if ok, _ := s.AutoSendEligible("P", nil); ok {
		t.Error("eligible with no keys")
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)

	p := &PropertyProfile{
		PropertyCode:   "GONG-101",
		Name:           "공릉 101호",
		Locale:         "ko",
		CheckinFrom:    "14:00",
		CheckinTo:      "22:00",
		CheckoutUntil:  "11:00",
		ParkingInfo:    "건물 뒤 전용 주차장 1대",
		PetPolicy:      "반려동물 동반 불가",
		Amenities:      map[string]string{"wifi": "SSID gong101 / pw 12345678", "towels": "4"},
		AddressSummary: "서울 노원구 공릉로 101",
		AccessGuide:    "공동현관 #1234, 도어락 비밀번호는 당일 안내",
		HouseRules:     "실내 금연, 22시 이후 소음 자제",
		Active:         true,
	}
	if err := s.UpsertProfile(p); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProfile("GONG-101")
	if err != nil {
		t.Fatal(err)
	}
	if got.CheckinFrom != "14:00" || got.Amenities["towels"] != "4" {
		t.Errorf("profile round-trip mismatch: %+v", got)
	}

	if _, err := s.GetProfile("NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProfile(missing) = %v, want ErrNotFound", err)
	}
}

func TestListingMapping(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertListingMapping(&ListingMapping{OTA: "AIRBNB", ListingID: "99887766"}); err == nil {
		t.Error("UpsertListingMapping accepted row without property or group code")
	}

	if err := s.UpsertListingMapping(&ListingMapping{
		OTA: "AIRBNB", ListingID: "99887766", PropertyCode: "GONG-101",
	}); err != nil {
		t.Fatal(err)
	}

	m, err := s.ResolveListing("AIRBNB", "99887766")
	if err != nil {
		t.Fatal(err)
	}
	if m.PropertyCode != "GONG-101" {
		t.Errorf("PropertyCode = %q", m.PropertyCode)
	}

	if _, err := s.ResolveListing("AIRBNB", "000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveListing(missing) = %v, want ErrNotFound", err)
	}
}

func TestAnswerEmbeddingRoundTrip(t *testing.T) {
	s := openTestStore(t)

	vec := []float32{0.1, -0.5, 0.25, 1}
	a := &AnswerEmbedding{
		GuestMessage: "수건 몇 개 있어요?",
		FinalAnswer:  "수건은 4개 준비되어 있습니다.",
		Embedding:    vec,
		PropertyCode: "GONG-101",
		WasEdited:    true,
	}
	if _, err := s.InsertAnswerEmbedding(a); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListAnswerEmbeddings()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1", len(all))
	}
	got := all[0]
	if got.GuestMessage != a.GuestMessage || !got.WasEdited || got.PropertyCode != "GONG-101" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	for i := range vec {
		if got.Embedding[i] != vec[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got.Embedding[i], vec[i])
		}
	}

	if _, err := s.InsertAnswerEmbedding(&AnswerEmbedding{GuestMessage: "q", FinalAnswer: "a"}); err == nil {
		t.Error("InsertAnswerEmbedding accepted empty vector")
	}
}

func TestReplyTemplates(t *testing.T) {
	s := openTestStore(t)

	if err := s.SeedDefaultTemplates(); err != nil {
		t.Fatal(err)
	}
	body, err := s.GetReplyTemplate("CHECKIN_QUESTION", "ko")
	if err != nil {
		t.Fatal(err)
	}
	if body == "" {
		t.Error("seeded template body empty")
	}

	// Operator customization survives reseeding.
	if err := s.UpsertReplyTemplate("CHECKIN_QUESTION", "ko", "커스텀"); err != nil {
		t.Fatal(err)
	}
	if err := s.SeedDefaultTemplates(); err != nil {
		t.Fatal(err)
	}
	body, _ = s.GetReplyTemplate("CHECKIN_QUESTION", "ko")
	if body != "커스텀" {
		t.Errorf("template = %q, want customization preserved", body)
	}

	if _, err := s.GetReplyTemplate("CHECKIN_QUESTION", "fr"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing locale = %v, want ErrNotFound", err)
	}
}

func TestAdvanceLastAutoReplyAtMonotone(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.InsertMessage(sampleMessage("ext-9"))

	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)

	if err := s.AdvanceLastAutoReplyAt(id, t1); err != nil {
		t.Fatal(err)
	}
	// An older timestamp must not move the field backwards.
	if err := s.AdvanceLastAutoReplyAt(id, t0); err != nil {
		t.Fatal(err)
	}

	m, _ := s.GetMessage(id)
	if !m.LastAutoReplyAt.Equal(t1) {
		t.Errorf("last_auto_reply_at = %v, want %v", m.LastAutoReplyAt, t1)
	}
}
