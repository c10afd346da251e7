package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"
)

// ReplyOptions holds everything needed to build a reply to a guest
// message as a complete RFC 5322 message.
type ReplyOptions struct {
	// From is the operator address (e.g., "Stay Ops <ops@example.com>").
	From string

	// To is the guest address the reply is delivered to.
	To string

	// Subject is the original subject; a "Re: " prefix is added when
	// not already present.
	Subject string

	// Body is the reply text. Treated as plain text with light
	// markdown; rendered to a text/html alternative part as well.
	Body string

	// InReplyTo is the Message-ID of the guest message, with or
	// without angle brackets.
	InReplyTo string

	// References is the original References chain; InReplyTo is
	// appended when missing.
	References []string
}

// ReplySubject prefixes "Re: " unless the subject already carries one
// in any common casing.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

// ComposeReply builds a complete RFC 5322 MIME message for a reply.
// The body is emitted as multipart/alternative with text/plain and
// text/html parts.
func ComposeReply(opts ReplyOptions) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject(ReplySubject(opts.Subject))

	from, err := mail.ParseAddress(opts.From)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", opts.From, err)
	}
	h.SetAddressList("From", []*mail.Address{from})

	to, err := mail.ParseAddress(opts.To)
	if err != nil {
		return nil, fmt.Errorf("parse to address %q: %w", opts.To, err)
	}
	h.SetAddressList("To", []*mail.Address{to})

	refs := opts.References
	if opts.InReplyTo != "" {
		inReplyTo := strings.Trim(strings.TrimSpace(opts.InReplyTo), "<>")
		h.SetMsgIDList("In-Reply-To", []string{inReplyTo})
		if !containsID(refs, inReplyTo) {
			refs = append(refs, inReplyTo)
		}
	}
	if len(refs) > 0 {
		h.SetMsgIDList("References", refs)
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}

	var ph mail.InlineHeader
	ph.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(ph)
	if err != nil {
		return nil, fmt.Errorf("create plain text part: %w", err)
	}
	if _, err := io.WriteString(pw, strings.TrimSpace(opts.Body)+"\n"); err != nil {
		return nil, fmt.Errorf("write plain text: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("close plain text part: %w", err)
	}

	htmlContent, err := renderHTML(opts.Body)
	if err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	var hh mail.InlineHeader
	hh.Set("Content-Type", "text/html; charset=utf-8")
	hw, err := tw.CreatePart(hh)
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := io.WriteString(hw, htmlContent); err != nil {
		return nil, fmt.Errorf("write html: %w", err)
	}
	if err := hw.Close(); err != nil {
		return nil, fmt.Errorf("close html part: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}

	return buf.Bytes(), nil
}

// renderHTML renders the reply body to an HTML fragment wrapped in a
// minimal envelope with no external resources.
func renderHTML(body string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		return "", err
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, buf.String()), nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
