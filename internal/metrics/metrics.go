// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the scheduling, publishing, queue and notification components report to.
type Recorder interface {
	SlotAllocated(auto bool)
	SlotUnavailable()
	PlatformAttempt(platform string, success bool, d time.Duration)
	PublishOutcome(outcome string)
	TriggerSweep(due int, err error)
	CaptionJob(result string)
	NotificationCreated(typ string, deduped bool)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	slots            *prometheus.CounterVec
	slotUnavailable  prometheus.Counter
	platformAttempts *prometheus.CounterVec
	platformLatency  *prometheus.HistogramVec
	publishOutcomes  *prometheus.CounterVec
	sweeps           *prometheus.CounterVec
	sweepDue         prometheus.Gauge
	captionJobs      *prometheus.CounterVec
	notifications    *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		slots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_slots_allocated_total",
			Help: "Slots handed out by the allocator, by whether a preference drove them.",
		}, []string{"auto"}),
		slotUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_slots_unavailable_total",
			Help: "Allocation requests that found no conflict-free slot.",
		}),
		platformAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_platform_publish_total",
			Help: "Per-account publish attempts by platform and result.",
		}, []string{"platform", "result"}),
		platformLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scheduler_platform_publish_seconds",
			Help:    "Latency of a single platform publish call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		publishOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_publish_outcomes_total",
			Help: "Item-level publish outcomes.",
		}, []string{"outcome"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_trigger_sweeps_total",
			Help: "Publish trigger sweeps by result.",
		}, []string{"result"}),
		sweepDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_trigger_due_items",
			Help: "Due items selected by the most recent sweep.",
		}),
		captionJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_caption_jobs_total",
			Help: "Caption job dispatches by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_notifications_total",
			Help: "Notify calls by type and whether an unread duplicate absorbed them.",
		}, []string{"type", "deduped"}),
	}

	reg.MustRegister(
		c.slots,
		c.slotUnavailable,
		c.platformAttempts,
		c.platformLatency,
		c.publishOutcomes,
		c.sweeps,
		c.sweepDue,
		c.captionJobs,
		c.notifications,
	)
	return c
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (c *Collector) SlotAllocated(auto bool) { c.slots.WithLabelValues(boolLabel(auto)).Inc() }

func (c *Collector) SlotUnavailable() { c.slotUnavailable.Inc() }

func (c *Collector) PlatformAttempt(platform string, success bool, d time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	c.platformAttempts.WithLabelValues(platform, result).Inc()
	c.platformLatency.WithLabelValues(platform).Observe(d.Seconds())
}

func (c *Collector) PublishOutcome(outcome string) { c.publishOutcomes.WithLabelValues(outcome).Inc() }

func (c *Collector) TriggerSweep(due int, err error) {
	if err != nil {
		c.sweeps.WithLabelValues("error").Inc()
		return
	}
	c.sweeps.WithLabelValues("ok").Inc()
	c.sweepDue.Set(float64(due))
}

func (c *Collector) CaptionJob(result string) { c.captionJobs.WithLabelValues(result).Inc() }

func (c *Collector) NotificationCreated(typ string, deduped bool) {
	c.notifications.WithLabelValues(typ, boolLabel(deduped)).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) SlotAllocated(bool) {}
func (Nop) SlotUnavailable() {}
func (Nop) PlatformAttempt(string, bool, time.Duration) {}
func (Nop) PublishOutcome(string) {}
func (Nop) TriggerSweep(int, error) {}
func (Nop) CaptionJob(string) {}
func (Nop) NotificationCreated(string, bool) {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Handler serves the gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
