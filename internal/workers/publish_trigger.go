package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/logging"
	"github.com/PortNumber53/social-scheduler/internal/metrics"
	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
)

// PublishTriggerWatermark names the trigger's row in the watermark store.
const PublishTriggerWatermark = "publish_trigger"

// ItemPublisher is the part of publisher.Publisher the trigger drives.
type ItemPublisher interface {
	Publish(ctx context.Context, itemID string) (*models.PublishReport, error)
}

type PublishTriggerConfig struct {
	Interval  time.Duration
	// Lookback widens each window backwards so items saved just behind the last tick are
	// still picked up.
	Lookback  time.Duration
	BatchSize int

	SweepTimeout    time.Duration
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	// SweepMaxRetries defaults to 3; a negative value disables retries.
	SweepMaxRetries int
}

func (c PublishTriggerConfig) withDefaults() PublishTriggerConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Lookback <= 0 {
		c.Lookback = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 20 * time.Second
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 700 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 3 * time.Second
	}
	if c.SweepMaxRetries < 0 {
		c.SweepMaxRetries = 0
	} else if c.SweepMaxRetries == 0 {
		c.SweepMaxRetries = 3
	}
	return c
}

type PublishTriggerDeps struct {
	Content    store.ContentStore
	Watermarks store.WatermarkStore
	Publisher  ItemPublisher
	Metrics    metrics.Recorder
	Logger     logrus.FieldLogger
	Now        func() time.Time
}

// SweepResult summarizes one tick.
type SweepResult struct {
	From      time.Time
	To        time.Time
	Due       int
	Published int
	Drafted   int
	Skipped   int
	Failed    int
}

// PublishTrigger periodically finds scheduled items whose time has come and hands each
// one to the publisher. Ticks never overlap.
type PublishTrigger struct {
	cfg        PublishTriggerConfig
	content    store.ContentStore
	watermarks store.WatermarkStore
	publisher  ItemPublisher
	metrics    metrics.Recorder
	log        logrus.FieldLogger
	now        func() time.Time
	sweepRetry retrypolicy.RetryPolicy[[]*models.ContentItem]

	runMu  sync.Mutex
	sweeps int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPublishTrigger(cfg PublishTriggerConfig, d PublishTriggerDeps) *PublishTrigger {
	cfg = cfg.withDefaults()
	t := &PublishTrigger{
		cfg:        cfg,
		content:    d.Content,
		watermarks: d.Watermarks,
		publisher:  d.Publisher,
		metrics:    metrics.OrNop(d.Metrics),
		log:        logging.OrDiscard(d.Logger),
		now:        d.Now,
	}
	if t.now == nil {
		t.now = time.Now
	}
	t.sweepRetry = retrypolicy.NewBuilder[[]*models.ContentItem]().
		WithBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay).
		WithMaxRetries(cfg.SweepMaxRetries).
		Build()
	return t
}

// Start runs a sweep immediately and then one per interval until Stop or ctx is done.
func (t *PublishTrigger) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx, t.done)
}

// Stop ends the loop and waits for an in-progress sweep to finish.
func (t *PublishTrigger) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *PublishTrigger) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t.log.WithFields(logrus.Fields{
		"interval": t.cfg.Interval.String(), "lookback": t.cfg.Lookback.String(), "batch": t.cfg.BatchSize,
	}).Info("[PublishTrigger] worker started")

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	run := func() {
		if _, err := t.RunOnce(ctx); err != nil && ctx.Err() == nil {
			t.log.WithError(err).Error("[PublishTrigger] sweep error final")
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			t.log.WithField("err", ctx.Err()).Info("[PublishTrigger] worker stopped")
			return
		case <-ticker.C:
			run()
		}
	}
}

// window returns the selection range for a tick at now.
func (t *PublishTrigger) window(ctx context.Context, now time.Time) (time.Time, error) {
	from := now.Add(-t.cfg.Lookback)
	if t.watermarks == nil {
		return from, nil
	}
	last, err := t.watermarks.LastTick(ctx, PublishTriggerWatermark)
	if err != nil {
		return time.Time{}, fmt.Errorf("load watermark: %w", err)
	}
	if last != nil {
		if lf := last.Add(-t.cfg.Lookback); lf.Before(from) {
			from = lf
		}
	}
	return from, nil
}

func (t *PublishTrigger) listDue(ctx context.Context, from, to time.Time) ([]*models.ContentItem, error) {
	attempt := 0
	return failsafe.With(t.sweepRetry).WithContext(ctx).Get(func() ([]*models.ContentItem, error) {
		attempt++
		sweepCtx, cancel := context.WithTimeout(ctx, t.cfg.SweepTimeout)
		defer cancel()
		items, err := t.content.ListDue(sweepCtx, from, to, t.cfg.BatchSize)
		if err != nil && attempt <= t.cfg.SweepMaxRetries {
			t.log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt, "of": t.cfg.SweepMaxRetries + 1,
			}).Warn("[PublishTrigger] sweep error")
		}
		return items, err
	})
}

// RunOnce performs one sweep: select due items, publish each, then advance the watermark.
// Selection itself changes nothing, so a failed sweep leaves items for the next tick.
func (t *PublishTrigger) RunOnce(ctx context.Context) (SweepResult, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.sweeps++

	now := t.now().UTC()
	res := SweepResult{To: now}
	from, err := t.window(ctx, now)
	if err != nil {
		t.metrics.TriggerSweep(0, err)
		return res, err
	}
	res.From = from

	items, err := t.listDue(ctx, from, now)
	if err != nil {
		t.metrics.TriggerSweep(0, err)
		return res, err
	}
	res.Due = len(items)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		log := t.log.WithFields(logrus.Fields{
			"itemId": item.ID, "userId": item.UserID, "scheduledAt": item.ScheduledAt.UTC().Format(time.RFC3339),
		})
		report, err := t.publisher.Publish(ctx, item.ID)
		switch {
		case errors.Is(err, store.ErrClaimHeld), errors.Is(err, store.ErrAlreadyPublished), errors.Is(err, store.ErrNotFound):
			res.Skipped++
			log.WithField("reason", err.Error()).Info("[PublishTrigger] skipped")
		case err != nil:
			res.Failed++
			log.WithError(err).Error("[PublishTrigger] publish_failed")
		case report.SuccessCount > 0:
			res.Published++
		default:
			res.Drafted++
		}
	}

	// A full batch may leave due items behind; keep the old watermark so the next tick
	// looks at the same window again.
	if len(items) < t.cfg.BatchSize && ctx.Err() == nil && t.watermarks != nil {
		if err := t.watermarks.SaveTick(ctx, PublishTriggerWatermark, now); err != nil {
			t.log.WithError(err).Warn("[PublishTrigger] watermark_save_failed")
		}
	}
	t.metrics.TriggerSweep(res.Due, nil)

	if res.Due > 0 {
		t.log.WithFields(logrus.Fields{
			"due": res.Due, "published": res.Published, "drafted": res.Drafted,
			"skipped": res.Skipped, "failed": res.Failed,
		}).Info("[PublishTrigger] sweep done")
		return res, nil
	}
	// Every ~10 idle sweeps, print a summary so "nothing happening" is diagnosable.
	if t.sweeps%10 == 0 {
		overdue, err := t.content.CountOverdue(ctx, from)
		entry := t.log.WithFields(logrus.Fields{"due": 0, "overdue": overdue, "from": from.Format(time.RFC3339)})
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Info("[PublishTrigger] sweep ok")
	}
	return res, nil
}
