package otaparse

import (
	"strings"
	"testing"
	"time"

	"github.com/stayops/concierge/internal/mailbox"
)

func guestNotificationBody() string {
	return strings.Join([]string{
		"김하늘",
		"게스트",
		"",
		"South Korea",
		"가입 연도: 2019년",
		"",
		"체크인 몇 시부터 가능한가요?",
		"",
		"https://www.airbnb.co.kr/rooms/99887766",
		"24시간 이내에 답장해주세요",
	}, "\n")
}

func TestParseStructuredPayload(t *testing.T) {
	body := guestNotificationBody()
	payload := &mailbox.Payload{
		ID:         "msg-001",
		ThreadID:   "thread-001",
		Snippet:    "체크인 몇 시부터 가능한가요?",
		ReceivedAt: time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC),
		MIMEType:   "multipart/alternative",
		Headers: []mailbox.Header{
			{Name: "From", Value: "Airbnb <express@airbnb.com>"},
			{Name: "Subject", Value: "=?UTF-8?B?7JeQ7Ja066W07Yq4?="},
		},
		Parts: []mailbox.Part{
			{MIMEType: "text/plain", Body: mailbox.Body{Data: mailbox.EncodeData([]byte(body))}},
		},
	}

	msg, err := NewParser(nil).Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if msg.ExternalID != "msg-001" || msg.ThreadID != "thread-001" {
		t.Errorf("ids = (%q, %q)", msg.ExternalID, msg.ThreadID)
	}
	if msg.OTA != "AIRBNB" {
		t.Errorf("OTA = %q, want AIRBNB", msg.OTA)
	}
	if msg.ListingID != "99887766" {
		t.Errorf("ListingID = %q, want 99887766", msg.ListingID)
	}
	if msg.Role != RoleGuest {
		t.Errorf("Role = %v, want RoleGuest", msg.Role)
	}
	if msg.RawRoleLabel != "게스트" {
		t.Errorf("RawRoleLabel = %q", msg.RawRoleLabel)
	}
	if msg.GuestSegment != "체크인 몇 시부터 가능한가요?" {
		t.Errorf("GuestSegment = %q", msg.GuestSegment)
	}
	// RFC 2047 encoded-word subject decodes.
	if strings.Contains(msg.Subject, "=?") || !strings.Contains(msg.Subject, "에") {
		t.Errorf("Subject = %q, want decoded hangul", msg.Subject)
	}
}

func TestParseRawRFC822(t *testing.T) {
	raw := strings.Join([]string{
		"From: Airbnb <automated@airbnb.co.kr>",
		"To: ops@example.com",
		"Subject: Airbnb: new message",
		"Date: Sat, 01 Aug 2026 09:30:00 +0000",
		"Message-ID: <abc123@mail.airbnb.com>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		guestNotificationBody(),
	}, "\r\n")

	payload := &mailbox.Payload{
		ID:  "raw-001",
		Raw: []byte(raw),
	}

	msg, err := NewParser(nil).Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if msg.From == "" || !strings.Contains(msg.From, "airbnb.co.kr") {
		t.Errorf("From = %q, want airbnb.co.kr sender", msg.From)
	}
	if msg.Subject != "Airbnb: new message" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.OTA != "AIRBNB" {
		t.Errorf("OTA = %q, want AIRBNB", msg.OTA)
	}
	if msg.GuestSegment != "체크인 몇 시부터 가능한가요?" {
		t.Errorf("GuestSegment = %q", msg.GuestSegment)
	}
	if msg.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not recovered from Date header")
	}
}

func TestParseHTMLOnlyFallsBackToText(t *testing.T) {
	html := `<html><body><p>김하늘</p><p>게스트</p><p>South Korea</p><p>주차 가능한가요?</p><p>자주 묻는 질문</p></body></html>`
	payload := &mailbox.Payload{
		ID:       "html-001",
		MIMEType: "text/html",
		Headers:  []mailbox.Header{{Name: "From", Value: "express@airbnb.com"}},
		Body:     mailbox.Body{Data: mailbox.EncodeData([]byte(html))},
	}

	msg, err := NewParser(nil).Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if msg.TextBody == "" {
		t.Fatal("TextBody empty, want HTML-derived text")
	}
	if msg.GuestSegment != "주차 가능한가요?" {
		t.Errorf("GuestSegment = %q, want 주차 가능한가요?", msg.GuestSegment)
	}
	if msg.Role != RoleGuest {
		t.Errorf("Role = %v, want RoleGuest", msg.Role)
	}
}

func TestDetectOTA(t *testing.T) {
	tests := []struct {
		from, want string
	}{
		{"Airbnb <express@airbnb.com>", "AIRBNB"},
		{"automated@airbnb.co.kr", "AIRBNB"},
		{"Airbnb <express@medium.airbnb.com>", "AIRBNB"},
		{"noreply@booking.com", "BOOKING"},
		{"someone@example.com", ""},
		{"not-an-address", ""},
	}
	for _, tt := range tests {
		if got := detectOTA(tt.from); got != tt.want {
			t.Errorf("detectOTA(%q) = %q, want %q", tt.from, got, tt.want)
		}
	}
}
