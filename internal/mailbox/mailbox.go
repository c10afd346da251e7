// Package mailbox defines the mailbox capability the ingestion pipeline
// consumes and provides an IMAP/SMTP-backed implementation. The payload
// shape mirrors the Gmail API message resource (headers plus base64url
// part bodies) so an HTTP-backed client can be dropped in without
// touching the parser.
package mailbox

import (
	"context"
	"encoding/base64"
	"strings"
	"time"
)

// Ref identifies one mailbox message in a listing.
type Ref struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
}

// Header is a single RFC 5322 header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Body holds base64url-encoded content bytes.
type Body struct {
	Data string `json:"data"`
}

// Part is one MIME part of a payload.
type Part struct {
	MIMEType string   `json:"mime_type"`
	Headers  []Header `json:"headers,omitempty"`
	Body     Body     `json:"body"`
	Parts    []Part   `json:"parts,omitempty"`
}

// Payload is a full mailbox message as returned by Get.
type Payload struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `json:"received_at"`

	MIMEType string   `json:"mime_type"`
	Headers  []Header `json:"headers"`
	Body     Body     `json:"body"`
	Parts    []Part   `json:"parts,omitempty"`

	// Raw carries the complete RFC 822 bytes when the transport has
	// them (the IMAP path). Parsers prefer Raw when present.
	Raw []byte `json:"-"`
}

// Query narrows a List call. Rendered to the provider's native query
// syntax by each implementation.
type Query struct {
	// SenderDomain restricts results to mail from this domain.
	SenderDomain string
	// SinceDays bounds how far back to look.
	SinceDays int
}

// Outgoing is a fully composed message to deliver.
type Outgoing struct {
	// Raw is the complete RFC 5322 message bytes.
	Raw []byte
	// ThreadID threads the reply on providers that track threads.
	ThreadID string
	// Recipients are the envelope recipients (bare addresses).
	Recipients []string
}

// Client is the mailbox capability consumed by the pipeline.
type Client interface {
	// List returns references to messages matching q, at most max.
	List(ctx context.Context, q Query, max int) ([]Ref, error)
	// Get fetches one full message by provider id.
	Get(ctx context.Context, id string) (*Payload, error)
	// Send delivers an outbound message and returns the provider id
	// assigned to it.
	Send(ctx context.Context, out Outgoing) (string, error)
}

// HeaderValue returns the first header with the given name
// (case-insensitive), or "".
func (p *Payload) HeaderValue(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// DecodeData decodes base64url body data. Both raw and padded
// encodings are accepted; providers differ.
func DecodeData(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(data)
}

// EncodeData encodes content bytes as unpadded base64url, the form
// the provider send API expects.
func EncodeData(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
