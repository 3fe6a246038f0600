package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records ingestion outcomes for provider notifications.
type WebhookMetrics struct {
	processed   *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	deferred    *prometheus.CounterVec
	failed      *prometheus.CounterVec
	matchHits   *prometheus.CounterVec
	activations *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_processed_total",
		Help: "Provider notifications fully processed.",
	}, []string{"event_type"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_duplicate_total",
		Help: "Provider notifications dropped as duplicates.",
	}, []string{"event_type"})
	deferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deferred_total",
		Help: "Provider notifications logged but not matched to a subscription.",
	}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_failed_total",
		Help: "Provider notifications that errored during processing.",
	}, []string{"event_type"})
	matchHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_match_total",
		Help: "Subscription matches by resolution strategy.",
	}, []string{"strategy"})
	activations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_activation_total",
		Help: "Subscription activations by source.",
	}, []string{"source"})
	reg.MustRegister(processed, duplicates, deferred, failed, matchHits, activations)
	return &WebhookMetrics{
		processed:   processed,
		duplicates:  duplicates,
		deferred:    deferred,
		failed:      failed,
		matchHits:   matchHits,
		activations: activations,
	}
}

// IncProcessed increments the processed counter for the event type.
func (w *WebhookMetrics) IncProcessed(eventType string) {
	if w == nil || w.processed == nil {
		return
	}
	w.processed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncDuplicate increments the duplicate counter for the event type.
func (w *WebhookMetrics) IncDuplicate(eventType string) {
	if w == nil || w.duplicates == nil {
		return
	}
	w.duplicates.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncDeferred increments the deferred counter for the event type.
func (w *WebhookMetrics) IncDeferred(eventType string) {
	if w == nil || w.deferred == nil {
		return
	}
	w.deferred.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncFailed increments the failure counter for the event type.
func (w *WebhookMetrics) IncFailed(eventType string) {
	if w == nil || w.failed == nil {
		return
	}
	w.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncMatch increments the strategy hit counter.
func (w *WebhookMetrics) IncMatch(strategy string) {
	if w == nil || w.matchHits == nil {
		return
	}
	w.matchHits.WithLabelValues(normalizeLabel(strategy)).Inc()
}

// IncActivation increments the activation counter for the source.
func (w *WebhookMetrics) IncActivation(source string) {
	if w == nil || w.activations == nil {
		return
	}
	w.activations.WithLabelValues(normalizeLabel(source)).Inc()
}
