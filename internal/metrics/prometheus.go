package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Dispatch metrics
	batchesTotal       *prometheus.CounterVec
	batchDuration      prometheus.Histogram
	batchStopsTotal    *prometheus.CounterVec
	jobsTotal          *prometheus.CounterVec
	submissionsTotal   *prometheus.CounterVec
	submissionDuration prometheus.Histogram
	quotaRemaining     prometheus.Gauge
	automationActive   prometheus.Gauge

	// EventBus metrics
	bufferSize          prometheus.Gauge
	bufferCapacity      prometheus.Gauge
	emitErrorsTotal     prometheus.Counter
	observerErrorsTotal *prometheus.CounterVec

	// Reconciler metrics
	staleRecoveredTotal prometheus.Counter

	// Leader election metrics
	isLeader            prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{logger: logger}
	s.initDispatchMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initReconcilerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initDispatchMetrics(reg prometheus.Registerer) {
	s.batchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "applybot_dispatch_batches_total",
		Help: "Total number of dispatch batches started.",
	}, []string{"trigger"})
	s.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "applybot_dispatch_batch_duration_seconds",
		Help:    "Wall time of each dispatch batch, including submission delays.",
		Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300},
	})
	s.batchStopsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "applybot_dispatch_batch_stops_total",
		Help: "Batches that ended before exhausting their candidates, by reason.",
	}, []string{"reason"})
	s.jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "applybot_dispatch_jobs_total",
		Help: "Candidates handled by dispatch batches, by result.",
	}, []string{"result"})
	s.submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "applybot_gateway_submissions_total",
		Help: "Submission attempts by outcome.",
	}, []string{"outcome"})
	s.submissionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "applybot_gateway_submission_duration_seconds",
		Help:    "Submission latency in seconds (excludes the inter-submission delay).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.quotaRemaining = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "applybot_dispatch_quota_remaining",
		Help: "Submissions left in the rolling quota window.",
	})
	s.automationActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "applybot_automation_active",
		Help: "1 while scheduled automation is running.",
	})

	s.register(reg, s.batchesTotal, "applybot_dispatch_batches_total")
	s.register(reg, s.batchDuration, "applybot_dispatch_batch_duration_seconds")
	s.register(reg, s.batchStopsTotal, "applybot_dispatch_batch_stops_total")
	s.register(reg, s.jobsTotal, "applybot_dispatch_jobs_total")
	s.register(reg, s.submissionsTotal, "applybot_gateway_submissions_total")
	s.register(reg, s.submissionDuration, "applybot_gateway_submission_duration_seconds")
	s.register(reg, s.quotaRemaining, "applybot_dispatch_quota_remaining")
	s.register(reg, s.automationActive, "applybot_automation_active")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "applybot_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "applybot_eventbus_buffer_capacity",
		Help: "Configured event bus buffer capacity.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applybot_eventbus_emit_errors_total",
		Help: "Total number of events dropped because the buffer was full.",
	})
	s.observerErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "applybot_observer_errors_total",
		Help: "Observer sink failures by observer.",
	}, []string{"observer"})

	s.register(reg, s.bufferSize, "applybot_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "applybot_eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "applybot_eventbus_emit_errors_total")
	s.register(reg, s.observerErrorsTotal, "applybot_observer_errors_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.staleRecoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applybot_reconciler_recovered_total",
		Help: "Records recovered from a stale submitting state.",
	})
	s.register(reg, s.staleRecoveredTotal, "applybot_reconciler_recovered_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "applybot_leader_is_leader",
		Help: "1 if this instance holds the automation lock.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applybot_leader_acquired_total",
		Help: "Times this instance acquired leadership.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "applybot_leader_lost_total",
		Help: "Times this instance lost leadership, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "applybot_leader_is_leader")
	s.register(reg, s.leaderAcquiredTotal, "applybot_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "applybot_leader_lost_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("metrics: failed to register collector", zap.String("name", name), zap.Error(err))
	}
}

func (s *PrometheusSink) BatchStarted(trigger string) {
	s.batchesTotal.WithLabelValues(trigger).Inc()
}

func (s *PrometheusSink) BatchCompleted(trigger string, duration time.Duration, attempted, succeeded, failed, skipped int) {
	s.batchDuration.Observe(duration.Seconds())
	s.jobsTotal.WithLabelValues("succeeded").Add(float64(succeeded))
	s.jobsTotal.WithLabelValues("failed").Add(float64(failed))
	s.jobsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

func (s *PrometheusSink) BatchStopped(reason string) {
	s.batchStopsTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) SubmissionCompleted(outcome string, duration time.Duration) {
	s.submissionsTotal.WithLabelValues(outcome).Inc()
	s.submissionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) QuotaRemaining(remaining int) {
	s.quotaRemaining.Set(float64(remaining))
}

func (s *PrometheusSink) AutomationActive(active bool) {
	if active {
		s.automationActive.Set(1)
		return
	}
	s.automationActive.Set(0)
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) ObserverError(observer string) {
	s.observerErrorsTotal.WithLabelValues(observer).Inc()
}

func (s *PrometheusSink) StaleRecordsRecovered(count int) {
	s.staleRecoveredTotal.Add(float64(count))
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
