package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/stayops/concierge/internal/autoreply"
	"github.com/stayops/concierge/internal/events"
)

// Coordinator wires the poller, the worker pool, and the reply
// service into the three pipeline entry points.
type Coordinator struct {
	poller  *Poller
	replies *autoreply.Service
	pool    *Pool
	bus     *events.Bus
	logger  *slog.Logger

	ticks atomic.Int64
}

// NewCoordinator creates a coordinator. replies may be nil for an
// ingest-only deployment.
func NewCoordinator(poller *Poller, replies *autoreply.Service, pool *Pool, bus *events.Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		poller:  poller,
		replies: replies,
		pool:    pool,
		bus:     bus,
		logger:  logger,
	}
}

// TickCount returns how many ticks have completed, for status pages.
func (c *Coordinator) TickCount() int64 { return c.ticks.Load() }

// RunIngestOnly pulls and classifies new messages without drafting
// replies.
func (c *Coordinator) RunIngestOnly(ctx context.Context, max, sinceDays int) (TickResult, error) {
	c.bus.Publish(events.Event{
		Source: events.SourcePoller,
		Kind:   events.KindTickStart,
		Data:   map[string]any{"max": max, "since_days": sinceDays},
	})

	result, err := c.poller.Tick(ctx, max, sinceDays)
	c.finishTick(result, err)
	return result, err
}

// RunFullTick ingests new messages, then drafts a reply for every
// NEEDS_REPLY message that has none. Reply work is dispatched to the
// worker pool keyed by thread id, so messages within one OTA thread
// process in order while threads run in parallel.
func (c *Coordinator) RunFullTick(ctx context.Context, max, sinceDays int, force bool) (TickResult, error) {
	c.bus.Publish(events.Event{
		Source: events.SourcePoller,
		Kind:   events.KindTickStart,
		Data:   map[string]any{"max": max, "since_days": sinceDays},
	})

	result, err := c.poller.Tick(ctx, max, sinceDays)
	if err != nil {
		c.finishTick(result, err)
		return result, err
	}

	if c.replies != nil {
		pending, err := c.poller.store.ListNeedsReplyWithoutAutoReply(max)
		if err != nil {
			c.finishTick(result, err)
			return result, err
		}

		for _, msg := range pending {
			messageID := msg.ID
			c.pool.Dispatch(ctx, msg.ThreadID, func() {
				if _, err := c.replies.Suggest(ctx, messageID, autoreply.Options{Force: force}); err != nil {
					c.logger.Warn("auto-reply failed", "message_id", messageID, "error", err)
				}
			})
		}
		c.pool.Wait()
	}

	c.finishTick(result, nil)
	return result, nil
}

// RunForever repeatedly invokes RunFullTick until the context is
// cancelled. A failed tick is logged and retried whole at the next
// interval; one tick never blocks the next.
func (c *Coordinator) RunForever(ctx context.Context, interval time.Duration, max, sinceDays int) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		tickCtx, cancel := context.WithTimeout(ctx, interval)
		if _, err := c.RunFullTick(tickCtx, max, sinceDays, false); err != nil {
			c.logger.Error("tick failed", "error", err)
		}
		cancel()

		select {
		case <-ctx.Done():
			c.logger.Info("pipeline loop stopping")
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) finishTick(result TickResult, err error) {
	c.ticks.Add(1)
	c.bus.Publish(events.Event{
		Source: events.SourcePoller,
		Kind:   events.KindTickComplete,
		Data: map[string]any{
			"fetched":        result.Fetched,
			"parsed":         result.Parsed,
			"newly_ingested": result.NewlyIngested,
			"failed":         result.Failed,
		},
	})
	if err == nil && result.NewlyIngested > 0 {
		c.bus.Publish(events.Event{
			Source: events.SourcePoller,
			Kind:   events.KindRefresh,
			Data:   map[string]any{"scope": "conversations", "reason": "tick"},
		})
	}
}
