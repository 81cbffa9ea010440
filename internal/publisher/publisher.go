// Package publisher dispatches a content item to every connected account on its target
// platforms and records the per-platform outcome.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/logging"
	"github.com/PortNumber53/social-scheduler/internal/metrics"
	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/notify"
	"github.com/PortNumber53/social-scheduler/internal/realtime"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyPublished is returned when Publish is called for an item that already went out.
var ErrAlreadyPublished = store.ErrAlreadyPublished

const (
	DefaultTimeout         = 30 * time.Second
	DefaultClaimStaleAfter = 10 * time.Minute
)

// Outcome labels used for metrics and logs.
const (
	OutcomePublished  = "published"
	OutcomePartial    = "partial"
	OutcomeFailed     = "failed"
	OutcomeNoAccounts = "no_accounts"
)

// Notifier is the part of notify.Notifier the publisher uses.
type Notifier interface {
	Notify(ctx context.Context, userID string, ev notify.Event) (*models.Notification, error)
}

type Deps struct {
	Content  store.ContentStore
	Accounts store.AccountStore
	Registry *Registry
	Notifier Notifier
	Events   realtime.Emitter
	Metrics  metrics.Recorder
	Logger   logrus.FieldLogger

	// Timeout bounds a single platform call, including the wait for its rate limiter.
	Timeout         time.Duration
	ClaimStaleAfter time.Duration
	// RateLimits replaces DefaultRateLimits; Getenv overlays PUBLISH_<PLATFORM>_* on top.
	RateLimits      map[string]RateLimitConfig
	Getenv          func(string) string
	Now             func() time.Time
}

type Publisher struct {
	content    store.ContentStore
	accounts   store.AccountStore
	registry   *Registry
	notifier   Notifier
	events     realtime.Emitter
	metrics    metrics.Recorder
	log        logrus.FieldLogger
	limiters   *limiterSet
	timeout    time.Duration
	staleAfter time.Duration
	now        func() time.Time
	newID      func() string
}

func New(d Deps) *Publisher {
	p := &Publisher{
		content:    d.Content,
		accounts:   d.Accounts,
		registry:   d.Registry,
		notifier:   d.Notifier,
		events:     d.Events,
		metrics:    metrics.OrNop(d.Metrics),
		log:        logging.OrDiscard(d.Logger),
		limiters:   newLimiterSet(d.Getenv, d.RateLimits),
		timeout:    d.Timeout,
		staleAfter: d.ClaimStaleAfter,
		now:        d.Now,
		newID:      func() string { return uuid.NewString() },
	}
	if p.registry == nil {
		p.registry = NewRegistry()
	}
	if p.events == nil {
		p.events = realtime.Nop{}
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.staleAfter <= 0 {
		p.staleAfter = DefaultClaimStaleAfter
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Publish sends the item to each matching active account, one after another. At least one
// success marks the item published; zero successes return it to draft. Platform failures
// are recorded in the report, never returned. Errors are limited to lookup, claim and
// persistence problems.
func (p *Publisher) Publish(ctx context.Context, itemID string) (*models.PublishReport, error) {
	item, err := p.content.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == models.StatusPublished {
		return nil, ErrAlreadyPublished
	}

	attemptID := p.newID()
	if err := p.content.Claim(ctx, item.ID, attemptID, p.staleAfter); err != nil {
		if errors.Is(err, store.ErrClaimHeld) {
			p.log.WithFields(logrus.Fields{"itemId": item.ID, "attemptId": attemptID}).Info("[Publish] claim_held")
		}
		return nil, err
	}
	log := p.log.WithFields(logrus.Fields{"itemId": item.ID, "userId": item.UserID, "attemptId": attemptID})
	log.Info("[Publish] start")

	report := &models.PublishReport{
		ItemID:    item.ID,
		AttemptID: attemptID,
		Results:   []models.PlatformResult{},
		StartedAt: p.now().UTC(),
	}

	targets, err := p.targets(ctx, item)
	if err != nil {
		p.release(ctx, item)
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	if len(targets) == 0 {
		report.FinishedAt = p.now().UTC()
		if err := p.content.CompletePublish(ctx, item.ID, models.StatusDraft, report); err != nil {
			return nil, fmt.Errorf("store report: %w", err)
		}
		log.Warn("[Publish] no_connected_accounts")
		p.finish(ctx, item, report, models.StatusDraft, OutcomeNoAccounts)
		return report, nil
	}

	for _, acct := range targets {
		res := p.attempt(ctx, acct, item)
		report.Add(res)
		entry := log.WithFields(logrus.Fields{"platform": res.Platform, "accountId": res.AccountID, "durMs": res.DurationMs})
		if res.Success {
			entry.Info("[Publish] platform_ok")
		} else {
			entry.WithField("err", deref(res.Error)).Warn("[Publish] platform_failed")
		}
	}
	report.FinishedAt = p.now().UTC()

	status := models.StatusDraft
	outcome := OutcomeFailed
	switch {
	case report.SuccessCount > 0 && report.FailureCount == 0:
		status, outcome = models.StatusPublished, OutcomePublished
	case report.SuccessCount > 0:
		status, outcome = models.StatusPublished, OutcomePartial
	}
	if err := p.content.CompletePublish(ctx, item.ID, status, report); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	log.WithFields(logrus.Fields{
		"status": status, "ok": report.SuccessCount, "failed": report.FailureCount,
	}).Info("[Publish] done")
	p.finish(ctx, item, report, status, outcome)
	return report, nil
}

// targets returns the user's active accounts on the item's platforms. An item with no
// platforms goes to every active account.
func (p *Publisher) targets(ctx context.Context, item *models.ContentItem) ([]*models.ConnectedAccount, error) {
	accounts, err := p.accounts.ListActive(ctx, item.UserID)
	if err != nil {
		return nil, err
	}
	if len(item.Platforms) == 0 {
		return accounts, nil
	}
	want := make(map[string]bool, len(item.Platforms))
	for _, pl := range item.Platforms {
		want[strings.ToLower(pl)] = true
	}
	out := make([]*models.ConnectedAccount, 0, len(accounts))
	for _, a := range accounts {
		if want[strings.ToLower(a.Platform)] {
			out = append(out, a)
		}
	}
	return out, nil
}

// attempt runs one platform call. It never returns an error; the failure is the result.
func (p *Publisher) attempt(ctx context.Context, acct *models.ConnectedAccount, item *models.ContentItem) (res models.PlatformResult) {
	platform := strings.ToLower(acct.Platform)
	res = models.PlatformResult{Platform: platform, AccountID: acct.ID}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.ExternalPostID = nil
			res.Error = strPtr(fmt.Sprintf("panic: %v", r))
		}
		d := time.Since(start)
		res.DurationMs = d.Milliseconds()
		p.metrics.PlatformAttempt(platform, res.Success, d)
	}()

	client, ok := p.registry.Get(platform)
	if !ok {
		res.Error = strPtr("unsupported_platform")
		return res
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.limiters.get(platform).Wait(callCtx); err != nil {
		res.Error = strPtr("rate_limited: " + err.Error())
		return res
	}
	externalID, err := client.Publish(callCtx, acct, item)
	if err != nil {
		res.Error = strPtr(err.Error())
		return res
	}
	res.Success = true
	if externalID != "" {
		res.ExternalPostID = strPtr(externalID)
	}
	return res
}

// release drops the claim without changing the item when the attempt aborts early.
func (p *Publisher) release(ctx context.Context, item *models.ContentItem) {
	if err := p.content.ReleaseClaim(ctx, item.ID); err != nil {
		p.log.WithError(err).WithField("itemId", item.ID).Warn("[Publish] release_claim_failed")
	}
}

func (p *Publisher) finish(ctx context.Context, item *models.ContentItem, report *models.PublishReport, status models.ContentStatus, outcome string) {
	p.metrics.PublishOutcome(outcome)
	p.events.Emit(item.UserID, realtime.Event{
		Type:      realtime.EventItemUpdated,
		UserID:    item.UserID,
		ItemID:    item.ID,
		AttemptID: report.AttemptID,
		Status:    string(status),
		Payload:   report,
	})
	if p.notifier == nil {
		return
	}
	ev := notify.Event{ItemID: item.ID, Body: summarize(item, report)}
	switch outcome {
	case OutcomePublished:
		ev.Type = models.NotifyPostPublished
	case OutcomePartial:
		ev.Type = models.NotifyPostPartiallyPublished
	case OutcomeNoAccounts:
		ev.Type = models.NotifyNoConnectedAccounts
		ev.Body = "Connect at least one account for this item's platforms, then schedule it again."
	default:
		ev.Type = models.NotifyPostFailed
	}
	if _, err := p.notifier.Notify(ctx, item.UserID, ev); err != nil {
		p.log.WithError(err).WithField("itemId", item.ID).Warn("[Publish] notify_failed")
	}
}

func summarize(item *models.ContentItem, r *models.PublishReport) string {
	ok := make([]string, 0, len(r.Results))
	failed := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Success {
			ok = append(ok, res.Platform)
		} else {
			failed = append(failed, res.Platform)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %d of %d succeeded", item.Kind, item.ID, r.SuccessCount, len(r.Results))
	if len(ok) > 0 {
		fmt.Fprintf(&b, "; published to %s", strings.Join(ok, ", "))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "; failed on %s", strings.Join(failed, ", "))
	}
	return b.String()
}

func strPtr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
