package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stayops/concierge/internal/autoreply"
	"github.com/stayops/concierge/internal/autosend"
	"github.com/stayops/concierge/internal/events"
	"github.com/stayops/concierge/internal/intent"
	"github.com/stayops/concierge/internal/mailbox"
	"github.com/stayops/concierge/internal/otaparse"
	"github.com/stayops/concierge/internal/replyctx"
	"github.com/stayops/concierge/internal/store"
)

// fakeMailbox serves canned payloads keyed by id.
type fakeMailbox struct {
	refs     []mailbox.Ref
	payloads map[string]*mailbox.Payload
	getErrs  map[string]error
	sent     []mailbox.Outgoing
}

func (f *fakeMailbox) List(ctx context.Context, q mailbox.Query, max int) ([]mailbox.Ref, error) {
	if max > 0 && len(f.refs) > max {
		return f.refs[:max], nil
	}
	return f.refs, nil
}

func (f *fakeMailbox) Get(ctx context.Context, id string) (*mailbox.Payload, error) {
	if err, ok := f.getErrs[id]; ok {
		return nil, err
	}
	p, ok := f.payloads[id]
	if !ok {
		return nil, fmt.Errorf("no payload %s", id)
	}
	return p, nil
}

func (f *fakeMailbox) Send(ctx context.Context, out mailbox.Outgoing) (string, error) {
	f.sent = append(f.sent, out)
	return "sent-1", nil
}

func guestPayload(id, segment string) *mailbox.Payload {
	body := strings.Join([]string{
		"김하늘",
		"게스트",
		"",
		"South Korea",
		"가입 연도: 2019년",
		"",
		segment,
		"",
		"24시간 이내에 답장해주세요",
	}, "\n")
	return &mailbox.Payload{
		ID:         id,
		ThreadID:   "thread-" + id,
		ReceivedAt: time.Now().UTC(),
		MIMEType:   "text/plain",
		Headers: []mailbox.Header{
			{Name: "From", Value: "Airbnb <express@airbnb.com>"},
			{Name: "Subject", Value: "Airbnb: new message"},
		},
		Body: mailbox.Body{Data: mailbox.EncodeData([]byte(body))},
	}
}

type testEnv struct {
	store   *store.Store
	mailbox *fakeMailbox
	coord   *Coordinator
	bus     *events.Bus
}

func newEnv(t *testing.T, withReplies bool) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	fm := &fakeMailbox{payloads: map[string]*mailbox.Payload{}, getErrs: map[string]error{}}
	bus := events.NewBus()
	classifier := intent.NewClassifier(nil, nil)
	poller := NewPoller(fm, otaparse.NewParser(nil), st, classifier, "airbnb.com", nil)

	var svc *autoreply.Service
	if withReplies {
		svc = autoreply.NewService(autoreply.Config{
			Store:      st,
			Classifier: classifier,
			Builder:    replyctx.NewBuilder(st, nil),
			Gate:       autosend.NewGate(st, store.Thresholds{}, nil),
			Bus:        bus,
			Sender:     fm,
			From:       "Stay Ops <ops@example.com>",
			UseLLM:     false,
		})
	}

	pool := NewPool(4, 16, nil)
	t.Cleanup(pool.Close)

	return &testEnv{
		store:   st,
		mailbox: fm,
		coord:   NewCoordinator(poller, svc, pool, bus, nil),
		bus:     bus,
	}
}

func TestIngestOnlyClassifiesAndLabels(t *testing.T) {
	env := newEnv(t, false)
	env.mailbox.refs = []mailbox.Ref{{ID: "A"}}
	env.mailbox.payloads["A"] = guestPayload("A", "체크인 몇 시부터 가능한가요?")

	result, err := env.coord.RunIngestOnly(context.Background(), 50, 3)
	if err != nil {
		t.Fatal(err)
	}
	if result.Fetched != 1 || result.NewlyIngested != 1 || result.Failed != 0 {
		t.Errorf("result = %+v", result)
	}

	m, err := env.store.GetMessageByExternalID("A")
	if err != nil {
		t.Fatal(err)
	}
	if m.SenderActor != "GUEST" || m.Actionability != "NEEDS_REPLY" {
		t.Errorf("classification = (%s, %s)", m.SenderActor, m.Actionability)
	}
	if m.Intent != "CHECKIN_QUESTION" {
		t.Errorf("intent = %q", m.Intent)
	}
	if !m.LastAutoReplyAt.IsZero() {
		t.Error("ingest-only produced a reply")
	}

	history, _ := env.store.LabelHistory(m.ID)
	if len(history) != 1 || history[0].Source != "SYSTEM" {
		t.Errorf("labels = %+v", history)
	}
}

// Scenario 3: one of two listed ids already exists; the tick reports
// fetched=2, newly_ingested=1 and creates exactly one row.
func TestDuplicateIngest(t *testing.T) {
	env := newEnv(t, false)
	env.mailbox.refs = []mailbox.Ref{{ID: "A"}}
	env.mailbox.payloads["A"] = guestPayload("A", "주차 가능한가요?")

	if _, err := env.coord.RunIngestOnly(context.Background(), 50, 3); err != nil {
		t.Fatal(err)
	}

	env.mailbox.refs = []mailbox.Ref{{ID: "A"}, {ID: "B"}}
	env.mailbox.payloads["B"] = guestPayload("B", "체크아웃 몇 시인가요?")

	result, err := env.coord.RunIngestOnly(context.Background(), 50, 3)
	if err != nil {
		t.Fatal(err)
	}
	if result.Fetched != 2 || result.NewlyIngested != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want fetched=2 newly_ingested=1", result)
	}

	if _, err := env.store.GetMessageByExternalID("A"); err != nil {
		t.Errorf("message A missing: %v", err)
	}
	if _, err := env.store.GetMessageByExternalID("B"); err != nil {
		t.Errorf("message B missing: %v", err)
	}
}

func TestTickToleratesPerMessageFailure(t *testing.T) {
	env := newEnv(t, false)
	env.mailbox.refs = []mailbox.Ref{{ID: "bad"}, {ID: "good"}}
	env.mailbox.getErrs["bad"] = fmt.Errorf("transient 5xx")
	env.mailbox.payloads["good"] = guestPayload("good", "와이파이 비밀번호 알려주세요")

	result, err := env.coord.RunIngestOnly(context.Background(), 50, 3)
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 1 || result.NewlyIngested != 1 {
		t.Errorf("result = %+v, want failed=1 newly_ingested=1", result)
	}
}

func TestFullTickDraftsReplies(t *testing.T) {
	env := newEnv(t, true)
	if err := env.store.SeedDefaultTemplates(); err != nil {
		t.Fatal(err)
	}
	env.mailbox.refs = []mailbox.Ref{{ID: "A"}}
	env.mailbox.payloads["A"] = guestPayload("A", "체크인 몇 시부터 가능한가요?")

	ch := env.bus.Subscribe(32)
	defer env.bus.Unsubscribe(ch)

	result, err := env.coord.RunFullTick(context.Background(), 50, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.NewlyIngested != 1 {
		t.Fatalf("result = %+v", result)
	}

	m, _ := env.store.GetMessageByExternalID("A")
	log, err := env.store.LatestReplyLogForMessage(m.ID)
	if err != nil {
		t.Fatalf("no reply log after full tick: %v", err)
	}
	// No property resolution: template placeholders cannot fill, so
	// the draft is the generic fallback, held for review.
	if log.SendMode != store.SendHITL {
		t.Errorf("SendMode = %q, want HITL", log.SendMode)
	}

	sawRefresh := false
	deadline := time.After(time.Second)
	for !sawRefresh {
		select {
		case e := <-ch:
			if e.Kind == events.KindRefresh {
				sawRefresh = true
			}
		case <-deadline:
			t.Fatal("no refresh event after full tick")
		}
	}

	// Second tick: nothing pending, no second log.
	if _, err := env.coord.RunFullTick(context.Background(), 50, 3, false); err != nil {
		t.Fatal(err)
	}
	again, _ := env.store.LatestReplyLogForMessage(m.ID)
	if again.ID != log.ID {
		t.Error("second tick produced a second log")
	}
}
