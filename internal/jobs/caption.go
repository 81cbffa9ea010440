package jobs

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/PortNumber53/social-scheduler/internal/captions"
	"github.com/PortNumber53/social-scheduler/internal/logging"
	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/notify"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
)

const maxHashtags = 30

type Notifier interface {
	Notify(ctx context.Context, userID string, ev notify.Event) (*models.Notification, error)
}

// CaptionProcessor generates a caption for an item and stores it. The item's caption
// status moves pending, processing, then completed or failed.
type CaptionProcessor struct {
	content  store.ContentStore
	gen      captions.Generator
	notifier Notifier
	policy   *bluemonday.Policy
	log      logrus.FieldLogger
}

func NewCaptionProcessor(content store.ContentStore, gen captions.Generator, notifier Notifier, log logrus.FieldLogger) *CaptionProcessor {
	return &CaptionProcessor{
		content:  content,
		gen:      gen,
		notifier: notifier,
		policy:   bluemonday.StrictPolicy(),
		log:      logging.OrDiscard(log),
	}
}

// clean strips markup from generated text and returns plain text.
func (p *CaptionProcessor) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(p.policy.Sanitize(s)))
}

func (p *CaptionProcessor) cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimPrefix(p.clean(t), "#")
		t = strings.Join(strings.Fields(t), "")
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == maxHashtags {
			break
		}
	}
	return out
}

// Handle is the queue Handler for caption jobs.
func (p *CaptionProcessor) Handle(ctx context.Context, job Job) error {
	item, err := p.content.Get(ctx, job.Key)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted while queued; nothing left to caption.
		return nil
	}
	if err != nil {
		return err
	}
	if item.CaptionStatus == models.CaptionCompleted && item.Caption != "" {
		return nil
	}
	if err := p.content.SetCaptionStatus(ctx, item.ID, models.CaptionProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	res, err := p.gen.Generate(ctx, job.MediaRef, job.UserID)
	if err != nil {
		return err
	}
	caption := p.clean(res.Caption)
	if caption == "" {
		return errors.New("caption_empty_after_sanitize")
	}
	tags := p.cleanTags(res.Hashtags)
	if err := p.content.SetCaption(ctx, item.ID, caption, tags); err != nil {
		return fmt.Errorf("store caption: %w", err)
	}
	p.log.WithFields(logrus.Fields{"itemId": item.ID, "hashtags": len(tags), "attempt": job.Attempt}).Info("[Captions] stored")
	return nil
}

// Exhausted marks the caption failed and tells the user.
func (p *CaptionProcessor) Exhausted(ctx context.Context, job Job, cause error) {
	log := p.log.WithFields(logrus.Fields{"itemId": job.Key, "attempts": job.Attempt})
	if err := p.content.SetCaptionStatus(ctx, job.Key, models.CaptionFailed); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).Error("[Captions] mark_failed_error")
	}
	log.WithError(cause).Warn("[Captions] failed")
	if p.notifier == nil || job.UserID == "" {
		return
	}
	if _, err := p.notifier.Notify(ctx, job.UserID, notify.Event{
		Type:   models.NotifyCaptionFailed,
		ItemID: job.Key,
		Body:   "We couldn't write a caption for this item. Add one yourself or try again.",
	}); err != nil {
		log.WithError(err).Warn("[Captions] notify_failed")
	}
}

// NewCaptionQueue builds a queue whose jobs run through p.
func NewCaptionQueue(cfg Config, p *CaptionProcessor, opts ...Option) *Queue {
	opts = append([]Option{WithExhausted(p.Exhausted)}, opts...)
	return New(cfg, p.Handle, opts...)
}

// EnqueueCaption queues caption generation for an item. It returns false when a job for
// the item is already in flight or the queue is stopped.
func (q *Queue) EnqueueCaption(itemID, userID, mediaRef string) bool {
	ok, err := q.Enqueue(Job{Key: itemID, UserID: userID, MediaRef: mediaRef})
	if err != nil {
		q.log.WithError(err).WithField("itemId", itemID).Warn("[JobQueue] enqueue_failed")
		return false
	}
	return ok
}
