package smsratelimit

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector receives counts about admission decisions and sweeps.
type MetricsCollector interface {
	// IncOutcome increments the number of checks that ended with outcome.
	IncOutcome(outcome Outcome)

	// IncRollbacks increments the number of sender slots given back after an account denial.
	IncRollbacks()

	// SetLimiters sets the number of limiters held by the registry.
	SetLimiters(int)

	// SetHistoryBuckets sets the number of one-second buckets held by the history store.
	SetHistoryBuckets(int)

	// AddSwept adds n entries removed by the named sweeper.
	AddSwept(sweeper string, n int)

	// IncSweepErrors increments the number of failed sweeps of the named sweeper.
	IncSweepErrors(sweeper string)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics is a MetricsCollector backed by Prometheus.
type PrometheusMetrics struct {
	ChecksTotal      *prometheus.CounterVec
	RollbacksTotal   prometheus.Counter
	LimitersAmount   prometheus.Gauge
	BucketsAmount    prometheus.Gauge
	SweptTotal       *prometheus.CounterVec
	SweepErrorsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   opts.Namespace,
				Name:        "admission_checks_total",
				Help:        "Number of admission checks by outcome.",
				ConstLabels: opts.ConstLabels,
			},
			[]string{"outcome"},
		),
		RollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_rollbacks_total",
			Help:        "Number of sender slots returned after an account ceiling denial.",
			ConstLabels: opts.ConstLabels,
		}),
		LimitersAmount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "limiters_amount",
			Help:        "Number of rate limiters held in the registry.",
			ConstLabels: opts.ConstLabels,
		}),
		BucketsAmount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "history_buckets_amount",
			Help:        "Number of one-second history buckets held in memory.",
			ConstLabels: opts.ConstLabels,
		}),
		SweptTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   opts.Namespace,
				Name:        "swept_entries_total",
				Help:        "Number of entries removed by background sweepers.",
				ConstLabels: opts.ConstLabels,
			},
			[]string{"sweeper"},
		),
		SweepErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   opts.Namespace,
				Name:        "sweep_errors_total",
				Help:        "Number of failed sweeps.",
				ConstLabels: opts.ConstLabels,
			},
			[]string{"sweeper"},
		),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	pm.MustRegisterWith(prometheus.DefaultRegisterer)
}

// MustRegisterWith registers the metrics in reg and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegisterWith(reg prometheus.Registerer) {
	reg.MustRegister(
		pm.ChecksTotal,
		pm.RollbacksTotal,
		pm.LimitersAmount,
		pm.BucketsAmount,
		pm.SweptTotal,
		pm.SweepErrorsTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.ChecksTotal)
	prometheus.Unregister(pm.RollbacksTotal)
	prometheus.Unregister(pm.LimitersAmount)
	prometheus.Unregister(pm.BucketsAmount)
	prometheus.Unregister(pm.SweptTotal)
	prometheus.Unregister(pm.SweepErrorsTotal)
}

// IncOutcome increments the number of checks that ended with outcome.
func (pm *PrometheusMetrics) IncOutcome(outcome Outcome) {
	pm.ChecksTotal.WithLabelValues(outcome.String()).Inc()
}

// IncRollbacks increments the number of sender rollbacks.
func (pm *PrometheusMetrics) IncRollbacks() {
	pm.RollbacksTotal.Inc()
}

// SetLimiters sets the number of limiters held by the registry.
func (pm *PrometheusMetrics) SetLimiters(n int) {
	pm.LimitersAmount.Set(float64(n))
}

// SetHistoryBuckets sets the number of buckets held by the history store.
func (pm *PrometheusMetrics) SetHistoryBuckets(n int) {
	pm.BucketsAmount.Set(float64(n))
}

// AddSwept adds n entries removed by the named sweeper.
func (pm *PrometheusMetrics) AddSwept(sweeper string, n int) {
	pm.SweptTotal.WithLabelValues(sweeper).Add(float64(n))
}

// IncSweepErrors increments the number of failed sweeps of the named sweeper.
func (pm *PrometheusMetrics) IncSweepErrors(sweeper string) {
	pm.SweepErrorsTotal.WithLabelValues(sweeper).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncOutcome(Outcome)    {}
func (disabledMetrics) IncRollbacks()         {}
func (disabledMetrics) SetLimiters(int)       {}
func (disabledMetrics) SetHistoryBuckets(int) {}
func (disabledMetrics) AddSwept(string, int)  {}
func (disabledMetrics) IncSweepErrors(string) {}

var disabledMetricsCollector = disabledMetrics{}
