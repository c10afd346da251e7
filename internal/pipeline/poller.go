// Package pipeline wires the poller, the worker pool, and the reply
// service into the ingestion-and-reply loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stayops/concierge/internal/action"
	"github.com/stayops/concierge/internal/intent"
	"github.com/stayops/concierge/internal/mailbox"
	"github.com/stayops/concierge/internal/origin"
	"github.com/stayops/concierge/internal/otaparse"
	"github.com/stayops/concierge/internal/store"
)

// TickResult summarizes one mailbox tick.
type TickResult struct {
	Fetched       int `json:"fetched"`
	Parsed        int `json:"parsed"`
	NewlyIngested int `json:"newly_ingested"`
	Failed        int `json:"failed"`
}

// Poller pulls new OTA messages from the mailbox, deduplicates by
// external message id, and stores parsed, origin-classified rows.
// Delivery downstream is at-least-once; the unique external id makes
// ingestion idempotent.
type Poller struct {
	client     mailbox.Client
	parser     *otaparse.Parser
	store      *store.Store
	classifier *intent.Classifier
	sender     string // OTA sender domain for the list query
	logger     *slog.Logger
}

// NewPoller creates a poller. classifier may be nil to skip intent
// labeling at ingest time.
func NewPoller(client mailbox.Client, parser *otaparse.Parser, st *store.Store, classifier *intent.Classifier, senderDomain string, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:     client,
		parser:     parser,
		store:      st,
		classifier: classifier,
		sender:     senderDomain,
		logger:     logger,
	}
}

// Tick lists candidate messages and ingests the new ones. Partial
// failures on individual messages are counted and logged; they never
// abort the tick.
func (p *Poller) Tick(ctx context.Context, max, sinceDays int) (TickResult, error) {
	var result TickResult

	refs, err := p.client.List(ctx, mailbox.Query{
		SenderDomain: p.sender,
		SinceDays:    sinceDays,
	}, max)
	if err != nil {
		return result, fmt.Errorf("list mailbox: %w", err)
	}
	result.Fetched = len(refs)

	for _, ref := range refs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		exists, err := p.store.MessageExists(ref.ID)
		if err != nil {
			result.Failed++
			p.logger.Warn("dedup check failed", "id", ref.ID, "error", err)
			continue
		}
		if exists {
			continue // duplicate: success, no new row
		}

		if err := p.ingestOne(ctx, ref.ID); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				continue // raced with another writer; still a success
			}
			result.Failed++
			p.logger.Warn("ingest failed", "id", ref.ID, "error", err)
			continue
		}
		result.Parsed++
		result.NewlyIngested++
	}

	return result, nil
}

// ingestOne fetches, parses, classifies, and stores one message.
// Mailbox fetches retry with bounded backoff; everything after the
// fetch is local.
func (p *Poller) ingestOne(ctx context.Context, id string) error {
	var payload *mailbox.Payload
	err := retry(ctx, func() error {
		var err error
		payload, err = p.client.Get(ctx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", id, err)
	}

	parsed, parseErr := p.parser.Parse(payload)
	if parseErr != nil {
		// Malformed MIME still gets a row, with unknown actor and
		// actionability, so the operator sees it; it is never
		// auto-replied.
		p.logger.Warn("parse error, storing as unknown", "id", id, "error", parseErr)
	}

	msg := &store.IngestedMessage{
		ExternalID:    parsed.ExternalID,
		ThreadID:      parsed.ThreadID,
		ReceivedAt:    parsed.ReceivedAt,
		From:          parsed.From,
		Subject:       parsed.Subject,
		TextBody:      parsed.TextBody,
		HTMLBody:      parsed.HTMLBody,
		GuestSegment:  parsed.GuestSegment,
		SenderActor:   "UNKNOWN",
		Actionability: "UNKNOWN",
		OTA:           parsed.OTA,
		GuestName:     parsed.Booking.GuestName,
		CheckinDate:   parsed.Booking.CheckinDate,
		CheckoutDate:  parsed.Booking.CheckoutDate,
	}

	var originResult origin.Result
	if parseErr == nil {
		originResult = origin.Classify(parsed.TextBody, parsed.Subject, parsed.Snippet, parsed.Role, parsed.RawRoleLabel)
		msg.SenderActor = string(originResult.Actor)
		msg.Actionability = string(originResult.Actionability)
	}

	if parsed.ListingID != "" && parsed.OTA != "" {
		if mapping, err := p.store.ResolveListing(parsed.OTA, parsed.ListingID); err == nil {
			msg.PropertyCode = mapping.PropertyCode
		} else if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("listing resolution failed", "id", id, "error", err)
		}
	}

	msgID, err := p.store.InsertMessage(msg)
	if err != nil {
		return err
	}

	// Intent labeling at ingest time for guest inquiries.
	if p.classifier != nil && msg.Actionability == string(origin.NeedsReply) {
		outcome := p.classifier.Classify(ctx, intent.Input{
			GuestSegment: parsed.GuestSegment,
			Subject:      parsed.Subject,
			Snippet:      parsed.Snippet,
		})
		decision := action.Decide(outcome)
		if err := p.store.SetIntent(msgID, string(outcome.Intent), string(outcome.Fine),
			outcome.Confidence, string(decision.Action)); err != nil {
			return err
		}
		if _, err := p.store.AppendLabel(msgID, string(outcome.Intent), "SYSTEM"); err != nil {
			return err
		}
	}

	p.logger.Info("ingested message",
		"id", msgID,
		"external_id", msg.ExternalID,
		"actor", msg.SenderActor,
		"actionability", msg.Actionability,
		"ota", msg.OTA,
	)
	return nil
}
