package mailbox

import (
	"bytes"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
)

func TestDecodeDataRawAndPadded(t *testing.T) {
	// "안녕하세요" round-trips through both base64url variants.
	want := "안녕하세요"

	raw := EncodeData([]byte(want))
	got, err := DecodeData(raw)
	if err != nil {
		t.Fatalf("DecodeData(raw) error: %v", err)
	}
	if string(got) != want {
		t.Errorf("DecodeData(raw) = %q, want %q", got, want)
	}

	// Padded variant (some providers pad).
	padded := raw
	for len(padded)%4 != 0 {
		padded += "="
	}
	got, err = DecodeData(padded)
	if err != nil {
		t.Fatalf("DecodeData(padded) error: %v", err)
	}
	if string(got) != want {
		t.Errorf("DecodeData(padded) = %q, want %q", got, want)
	}
}

func TestDecodeDataEmpty(t *testing.T) {
	got, err := DecodeData("")
	if err != nil || got != nil {
		t.Errorf("DecodeData(\"\") = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestHeaderValueCaseInsensitive(t *testing.T) {
	p := &Payload{Headers: []Header{
		{Name: "Subject", Value: "Airbnb: new message"},
		{Name: "message-id", Value: "<abc@mail.airbnb.com>"},
	}}

	if got := p.HeaderValue("subject"); got != "Airbnb: new message" {
		t.Errorf("HeaderValue(subject) = %q", got)
	}
	if got := p.HeaderValue("Message-ID"); got != "<abc@mail.airbnb.com>" {
		t.Errorf("HeaderValue(Message-ID) = %q", got)
	}
	if got := p.HeaderValue("X-Missing"); got != "" {
		t.Errorf("HeaderValue(X-Missing) = %q, want empty", got)
	}
}

func TestReplySubject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Airbnb: new message", "Re: Airbnb: new message"},
		{"Re: Airbnb: new message", "Re: Airbnb: new message"},
		{"RE: hello", "RE: hello"},
		{"  spaced  ", "Re: spaced"},
	}
	for _, tt := range tests {
		if got := ReplySubject(tt.in); got != tt.want {
			t.Errorf("ReplySubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestComposeReplyThreading(t *testing.T) {
	raw, err := ComposeReply(ReplyOptions{
		From:      "Stay Ops <ops@example.com>",
		To:        "guest@example.com",
		Subject:   "Airbnb: new message",
		Body:      "Check-in starts at 14:00.",
		InReplyTo: "<orig@mail.airbnb.com>",
	})
	if err != nil {
		t.Fatalf("ComposeReply() error: %v", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse composed message: %v", err)
	}

	subj, err := mr.Header.Subject()
	if err != nil || subj != "Re: Airbnb: new message" {
		t.Errorf("Subject = %q (%v), want Re: prefix", subj, err)
	}

	irt, err := mr.Header.MsgIDList("In-Reply-To")
	if err != nil || len(irt) != 1 || irt[0] != "orig@mail.airbnb.com" {
		t.Errorf("In-Reply-To = %v (%v)", irt, err)
	}

	refs, err := mr.Header.MsgIDList("References")
	if err != nil || len(refs) != 1 || refs[0] != "orig@mail.airbnb.com" {
		t.Errorf("References = %v (%v), want original id appended", refs, err)
	}

	if !strings.Contains(string(raw), "Check-in starts at 14:00.") {
		t.Error("composed message does not contain the body text")
	}
}

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Stay Ops <ops@example.com>", "ops@example.com"},
		{"ops@example.com", "ops@example.com"},
	}
	for _, tt := range tests {
		if got := extractAddress(tt.in); got != tt.want {
			t.Errorf("extractAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
