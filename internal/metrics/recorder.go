package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpbx/callgate/internal/gatekeeper"
)

// Recorder holds the event counters updated by request handlers and the
// gatekeeper engine. All methods are safe for concurrent use.
type Recorder struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	webhookFailures *prometheus.CounterVec
	lookupErrors    prometheus.Counter
	contactsSynced  *prometheus.CounterVec
	voiceTokens     prometheus.Counter
}

// NewRecorder creates a Recorder with its own registry. Extra collectors
// (such as a Collector) are registered alongside the counters.
func NewRecorder(extra ...prometheus.Collector) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_decisions_total",
			Help: "Routing decisions made, by verdict",
		}, []string{"verdict"}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_webhook_auth_failures_total",
			Help: "Webhook requests rejected by authentication, by route",
		}, []string{"route"}),
		lookupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callgate_directory_lookup_errors_total",
			Help: "Directory lookups that failed or timed out during routing",
		}),
		contactsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_contacts_synced_total",
			Help: "Contacts processed by sync, by result",
		}, []string{"result"}),
		voiceTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callgate_voice_tokens_issued_total",
			Help: "Voice access tokens issued",
		}),
	}

	// Pre-populate label values so every series is exported from zero.
	for _, v := range gatekeeper.Verdicts() {
		r.decisions.WithLabelValues(v.String())
	}
	r.contactsSynced.WithLabelValues("synced")
	r.contactsSynced.WithLabelValues("failed")

	r.registry.MustRegister(r.decisions, r.webhookFailures, r.lookupErrors, r.contactsSynced, r.voiceTokens)
	r.registry.MustRegister(extra...)
	return r
}

// ObserveDecision implements gatekeeper.Observer.
func (r *Recorder) ObserveDecision(v gatekeeper.Verdict) {
	r.decisions.WithLabelValues(v.String()).Inc()
}

// ObserveLookupError implements gatekeeper.Observer.
func (r *Recorder) ObserveLookupError() {
	r.lookupErrors.Inc()
}

// ObserveWebhookAuthFailure counts a rejected webhook on route.
func (r *Recorder) ObserveWebhookAuthFailure(route string) {
	r.webhookFailures.WithLabelValues(route).Inc()
}

// ObserveContactsSynced counts the outcome of one sync request.
func (r *Recorder) ObserveContactsSynced(synced, failed int) {
	r.contactsSynced.WithLabelValues("synced").Add(float64(synced))
	r.contactsSynced.WithLabelValues("failed").Add(float64(failed))
}

// ObserveVoiceToken counts an issued voice access token.
func (r *Recorder) ObserveVoiceToken() {
	r.voiceTokens.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
