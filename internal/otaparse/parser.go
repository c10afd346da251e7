// Package otaparse decodes OTA notification emails into normalized
// messages: MIME and encoded-word decoding, guest-segment isolation,
// sender-role detection, listing-id and booking-metadata extraction.
// It is deterministic and makes no external calls.
package otaparse

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/stayops/concierge/internal/mailbox"
)

// maxBodySize caps each decoded body part. Larger parts are truncated;
// OTA notifications are far below this in practice.
const maxBodySize = 256 * 1024

// listingURLPattern matches the canonical listing URL form. The first
// match wins.
var listingURLPattern = regexp.MustCompile(`/rooms/(\d+)`)

// otaDomains maps notification sender domains to OTA codes.
var otaDomains = map[string]string{
	"airbnb.com":   "AIRBNB",
	"airbnb.co.kr": "AIRBNB",
	"booking.com":  "BOOKING",
	"agoda.com":    "AGODA",
}

// ParsedMessage is the normalized result of decoding one OTA
// notification payload.
type ParsedMessage struct {
	ExternalID string
	ThreadID   string
	ReceivedAt time.Time
	From       string
	Subject    string
	Snippet    string

	TextBody string
	HTMLBody string

	GuestSegment string
	Role         SenderRole
	RawRoleLabel string

	OTA       string
	ListingID string
	Booking   BookingMeta
}

// Parser decodes mailbox payloads. It is stateless apart from its
// logger and safe for concurrent use.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse decodes one payload. A payload whose MIME structure cannot be
// walked still yields a ParsedMessage with whatever headers were
// recovered; the error reports what was lost so the caller can store
// the message with unknown actor/actionability.
func (p *Parser) Parse(payload *mailbox.Payload) (*ParsedMessage, error) {
	if payload == nil {
		return nil, fmt.Errorf("nil payload")
	}

	msg := &ParsedMessage{
		ExternalID: payload.ID,
		ThreadID:   payload.ThreadID,
		ReceivedAt: payload.ReceivedAt,
		Snippet:    payload.Snippet,
		From:       payload.HeaderValue("From"),
		Subject:    decodeEncodedWords(payload.HeaderValue("Subject")),
	}

	var parseErr error
	if len(payload.Raw) > 0 {
		parseErr = p.parseRaw(msg, payload.Raw)
	} else {
		parseErr = p.parseParts(msg, payload)
	}

	if msg.TextBody == "" && msg.HTMLBody != "" {
		msg.TextBody = HTMLToText(msg.HTMLBody)
	}

	msg.OTA = detectOTA(msg.From)
	msg.ListingID = extractListingID(msg.TextBody + "\n" + msg.HTMLBody)
	msg.Role, msg.RawRoleLabel = DetectRole(msg.TextBody)
	msg.GuestSegment = ExtractGuestSegment(msg.TextBody)
	msg.Booking = ExtractBookingMeta(msg.TextBody)

	return msg, parseErr
}

// parseRaw walks the MIME structure of raw RFC822 bytes. go-message
// may return both a valid reader AND an error for unknown charsets;
// those are non-fatal and parsing continues.
func (p *Parser) parseRaw(msg *ParsedMessage, raw []byte) error {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return fmt.Errorf("create mail reader: %w", err)
	}
	if mr == nil {
		return fmt.Errorf("create mail reader returned nil: %w", err)
	}
	if err != nil {
		p.logger.Debug("mail reader created with charset warning", "error", err)
	}

	if msg.From == "" {
		if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
			msg.From = addrs[0].String()
		}
	}
	if msg.Subject == "" {
		if subj, err := mr.Header.Subject(); err == nil {
			msg.Subject = subj
		}
	}
	if msg.ReceivedAt.IsZero() {
		if d, err := mr.Header.Date(); err == nil {
			msg.ReceivedAt = d
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}

		var contentType string
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ = h.ContentType()
		case *mail.AttachmentHeader:
			continue
		default:
			continue
		}

		switch {
		case contentType == "text/plain" && msg.TextBody == "":
			msg.TextBody = readPart(part.Body)
		case contentType == "text/html" && msg.HTMLBody == "":
			msg.HTMLBody = readPart(part.Body)
		}
	}

	return nil
}

// parseParts decodes a structured Gmail-style payload: base64url part
// bodies keyed by MIME type, recursing into multipart containers.
func (p *Parser) parseParts(msg *ParsedMessage, payload *mailbox.Payload) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Single-part payloads carry the body at the top level.
	if len(payload.Parts) == 0 {
		body, err := mailbox.DecodeData(payload.Body.Data)
		record(err)
		switch payload.MIMEType {
		case "text/html":
			msg.HTMLBody = string(body)
		default:
			msg.TextBody = string(body)
		}
		return firstErr
	}

	var walk func(parts []mailbox.Part)
	walk = func(parts []mailbox.Part) {
		for _, part := range parts {
			if len(part.Parts) > 0 {
				walk(part.Parts)
				continue
			}
			body, err := mailbox.DecodeData(part.Body.Data)
			record(err)
			switch {
			case part.MIMEType == "text/plain" && msg.TextBody == "":
				msg.TextBody = string(body)
			case part.MIMEType == "text/html" && msg.HTMLBody == "":
				msg.HTMLBody = string(body)
			}
		}
	}
	walk(payload.Parts)

	if firstErr != nil {
		return fmt.Errorf("decode part body: %w", firstErr)
	}
	return nil
}

func readPart(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}

// decodeEncodedWords decodes RFC 2047 encoded-words in header values.
// Undecodable input is returned verbatim.
func decodeEncodedWords(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	dec := mime.WordDecoder{}
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// detectOTA maps the sender address's domain to an OTA code.
// Subdomains match their parent (express.medium.airbnb.com → AIRBNB).
func detectOTA(from string) string {
	addr := strings.ToLower(from)
	if i := strings.LastIndexByte(addr, '<'); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	_, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return ""
	}
	domain = strings.TrimSpace(domain)
	for d, code := range otaDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return code
		}
	}
	return ""
}

// extractListingID returns the digits of the first /rooms/<id> URL.
func extractListingID(text string) string {
	if m := listingURLPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
