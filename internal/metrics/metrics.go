package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Forward safety metrics
	forwardVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hopline_forward_verdicts_total",
		Help: "Forward safety verdicts by reason",
	}, []string{"reason"})

	forwardsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hopline_forwards_recorded_total",
		Help: "Forward hops written to the chain store",
	}, []string{"mode"})

	cyclesDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hopline_cycles_detected_total",
		Help: "Root transactions flagged with a payment cycle",
	})

	// Stake metrics
	slashesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hopline_slashes_total",
		Help: "Slash operations by outcome",
	}, []string{"outcome"})

	violationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hopline_violations_total",
		Help: "Confirmed violations recorded",
	})

	creditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hopline_cooperation_credits_total",
		Help: "Cooperation credits appended by reward type",
	}, []string{"reward_type"})

	// Decay metrics
	decaySnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hopline_decay_snapshots_total",
		Help: "Reputation decay snapshots written",
	})

	decayPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hopline_decay_pass_duration_seconds",
		Help:    "Duration of reputation decay passes",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hopline_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hopline_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordVerdict counts a forward safety verdict.
func RecordVerdict(reason string) {
	forwardVerdictsTotal.WithLabelValues(reason).Inc()
}

// RecordForward counts a written hop; forced hops bypassed the safety verdict.
func RecordForward(forced bool) {
	mode := "verified"
	if forced {
		mode = "forced"
	}
	forwardsRecordedTotal.WithLabelValues(mode).Inc()
}

func RecordCycleDetected() {
	cyclesDetectedTotal.Inc()
}

// RecordSlash counts a slash; applied is false for agents without stake.
func RecordSlash(applied bool) {
	outcome := "applied"
	if !applied {
		outcome = "no_stake"
	}
	slashesTotal.WithLabelValues(outcome).Inc()
}

func RecordViolation() {
	violationsTotal.Inc()
}

func RecordCredit(rewardType string) {
	creditsTotal.WithLabelValues(rewardType).Inc()
}

func RecordDecayPass(seconds float64, snapshots int) {
	decayPassDuration.Observe(seconds)
	decaySnapshotsTotal.Add(float64(snapshots))
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, path, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(seconds)
}
