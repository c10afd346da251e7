package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
)

// maxRawMessageSize is the maximum raw RFC822 message size to buffer
// from the IMAP literal. Larger messages (huge attachments) are
// truncated; the remainder of the literal is drained to keep the IMAP
// stream in sync.
const maxRawMessageSize = 5 * 1024 * 1024

// IMAPOptions configures an IMAP-backed mailbox client.
type IMAPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	// SMTPHost/SMTPPort locate the submission server for Send.
	// SMTPHost defaults to Host, SMTPPort to 465.
	SMTPHost string
	SMTPPort int
	// StartTLS selects STARTTLS submission (port 587 style) instead
	// of implicit TLS.
	StartTLS bool
	// From is the operator identity used as the SMTP envelope sender.
	From string
	// TLSInsecure skips certificate verification (dev servers only).
	TLSInsecure bool
}

// IMAPClient implements Client over IMAP for reading and SMTP for
// submission. All public methods are goroutine-safe; IMAP access is
// mutex-serialized with automatic reconnection, following a
// single-connection discipline.
type IMAPClient struct {
	opts   IMAPOptions
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewIMAPClient creates an IMAP-backed mailbox client. The connection
// is established lazily on first use.
func NewIMAPClient(opts IMAPOptions, logger *slog.Logger) *IMAPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SMTPHost == "" {
		opts.SMTPHost = opts.Host
	}
	if opts.SMTPPort == 0 {
		opts.SMTPPort = 465
	}
	return &IMAPClient{opts: opts, logger: logger}
}

// connectLocked performs the actual connection. Caller must hold c.mu.
func (c *IMAPClient) connectLocked(ctx context.Context) error {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	opts := imapclient.Options{
		TLSConfig: &tls.Config{
			ServerName:         c.opts.Host,
			InsecureSkipVerify: c.opts.TLSInsecure, //nolint:gosec // explicit opt-in
		},
	}

	c.logger.Debug("connecting to IMAP server", "host", c.opts.Host, "port", c.opts.Port)

	client, err := imapclient.DialTLS(addr, &opts)
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.opts.Username, c.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", c.opts.Username, err)
	}

	c.client = client
	c.logger.Info("IMAP connected", "host", c.opts.Host, "user", c.opts.Username)
	return nil
}

// ensureConnected checks the connection and reconnects if needed.
// Caller must hold c.mu.
func (c *IMAPClient) ensureConnected(ctx context.Context) error {
	if c.client != nil {
		if err := c.client.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Debug("IMAP connection stale, reconnecting", "host", c.opts.Host)
	}
	return c.connectLocked(ctx)
}

// Close logs out and closes the IMAP connection.
func (c *IMAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// List returns references to messages matching q, newest last.
// The IMAP UID doubles as the provider id.
func (c *IMAPClient) List(ctx context.Context, q Query, max int) ([]Ref, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if _, err := c.client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("select INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{}
	if q.SinceDays > 0 {
		criteria.Since = time.Now().AddDate(0, 0, -q.SinceDays)
	}
	if q.SenderDomain != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key:   "From",
			Value: q.SenderDomain,
		})
	}

	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search INBOX: %w", err)
	}

	uids := searchData.AllUIDs()
	if max > 0 && len(uids) > max {
		// Keep the most recent N (highest UIDs = newest).
		uids = uids[len(uids)-max:]
	}

	refs := make([]Ref, 0, len(uids))
	for _, uid := range uids {
		// ThreadID is resolved during Get; listings only carry ids.
		refs = append(refs, Ref{ID: strconv.FormatUint(uint64(uid), 10)})
	}
	return refs, nil
}

// Get fetches one full message by UID. The raw RFC822 bytes are
// buffered into Payload.Raw; envelope headers are mirrored into the
// Headers slice so downstream code can stay transport-agnostic.
func (c *IMAPClient) Get(ctx context.Context, id string) (*Payload, error) {
	uid64, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad message id %q: %w", id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if _, err := c.client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("select INBOX: %w", err)
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(imap.UID(uid64))

	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: true}, // Ingestion must not flip \Seen.
		},
	}

	fetchCmd := c.client.Fetch(uidSet, fetchOpts)
	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("message %s not found", id)
	}

	p := &Payload{ID: id}
	var raw []byte

	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope != nil {
				p.ReceivedAt = data.Envelope.Date
				p.Headers = append(p.Headers,
					Header{Name: "Subject", Value: data.Envelope.Subject},
					Header{Name: "Message-ID", Value: data.Envelope.MessageID},
				)
				if len(data.Envelope.From) > 0 {
					p.Headers = append(p.Headers, Header{Name: "From", Value: formatAddress(data.Envelope.From[0])})
				}
			}
		case imapclient.FetchItemDataBodySection:
			// Consume the literal immediately. go-imap/v2 streams data
			// from the connection; msg.Next() advances past unread
			// literals, so deferring the read would lose the body.
			if data.Literal == nil {
				continue
			}
			var readErr error
			raw, readErr = io.ReadAll(io.LimitReader(data.Literal, maxRawMessageSize))
			_, _ = io.Copy(io.Discard, data.Literal)
			if readErr != nil {
				c.logger.Debug("error reading body literal", "id", id, "error", readErr)
				raw = nil
			}
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", id, err)
	}

	p.Raw = raw
	p.ThreadID = threadIDFromRaw(raw, p.HeaderValue("Message-ID"))
	return p, nil
}

// threadIDFromRaw derives a stable thread key: the root of the
// References chain when present, else In-Reply-To, else the message's
// own Message-ID. IMAP has no provider thread ids, so the RFC 5322
// threading headers stand in.
func threadIDFromRaw(raw []byte, selfID string) string {
	if len(raw) > 0 {
		if mr, err := mail.CreateReader(bytes.NewReader(raw)); err == nil && mr != nil {
			if refs, err := mr.Header.MsgIDList("References"); err == nil && len(refs) > 0 {
				return refs[0]
			}
			if irt, err := mr.Header.MsgIDList("In-Reply-To"); err == nil && len(irt) > 0 {
				return irt[0]
			}
		}
	}
	return selfID
}

// formatAddress renders an IMAP address as "Name <addr>" or bare addr.
func formatAddress(a imap.Address) string {
	addr := a.Mailbox + "@" + a.Host
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, addr)
	}
	return addr
}
