package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Engine pass metrics
	passesTotal     *prometheus.CounterVec
	passErrorsTotal *prometheus.CounterVec
	passSentTotal   *prometheus.CounterVec
	passSkipped     *prometheus.CounterVec
	passDuration    *prometheus.HistogramVec

	// Reminder job metrics
	jobsScheduledTotal *prometheus.CounterVec
	jobsFiredTotal     *prometheus.CounterVec

	// Dispatcher metrics
	sendsTotal    *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec
	adminNotified prometheus.Counter

	// Record source metrics
	writeBackFailuresTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initPassMetrics(reg)
	s.initJobMetrics(reg)
	s.initDispatcherMetrics(reg)
	return s
}

func (s *PrometheusSink) initPassMetrics(reg prometheus.Registerer) {
	s.passesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_engine_passes_total",
		Help: "Total number of scan passes started.",
	}, []string{"window"})
	s.passErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_engine_pass_errors_total",
		Help: "Total number of scan passes aborted by a record source error.",
	}, []string{"window"})
	s.passSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_engine_pass_sent_total",
		Help: "Total reminders sent or scheduled by scan passes.",
	}, []string{"window"})
	s.passSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_engine_pass_skipped_total",
		Help: "Total rows skipped by scan passes (bad data or send failure).",
	}, []string{"window"})
	s.passDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkin_engine_pass_duration_seconds",
		Help:    "Duration of each scan pass in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"window"})

	s.register(reg, s.passesTotal, "checkin_engine_passes_total")
	s.register(reg, s.passErrorsTotal, "checkin_engine_pass_errors_total")
	s.register(reg, s.passSentTotal, "checkin_engine_pass_sent_total")
	s.register(reg, s.passSkipped, "checkin_engine_pass_skipped_total")
	s.register(reg, s.passDuration, "checkin_engine_pass_duration_seconds")
}

func (s *PrometheusSink) initJobMetrics(reg prometheus.Registerer) {
	s.jobsScheduledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_jobs_scheduled_total",
		Help: "Total number of one-shot reminder jobs registered.",
	}, []string{"window"})
	s.jobsFiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_jobs_fired_total",
		Help: "Total number of one-shot reminder jobs fired.",
	}, []string{"window", "skipped"})

	s.register(reg, s.jobsScheduledTotal, "checkin_jobs_scheduled_total")
	s.register(reg, s.jobsFiredTotal, "checkin_jobs_fired_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.sendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_sms_sends_total",
		Help: "Total number of SMS send attempts by outcome.",
	}, []string{"endpoint", "outcome"})
	s.sendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkin_sms_send_duration_seconds",
		Help:    "SMS provider request latency in seconds (excludes post-send delay).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"endpoint"})
	s.adminNotified = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkin_admin_notifications_total",
		Help: "Total number of error relays sent to the admin contact.",
	})
	s.writeBackFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkin_source_write_back_failures_total",
		Help: "Total number of failed flag write-backs to the record source.",
	})

	s.register(reg, s.sendsTotal, "checkin_sms_sends_total")
	s.register(reg, s.sendDuration, "checkin_sms_send_duration_seconds")
	s.register(reg, s.adminNotified, "checkin_admin_notifications_total")
	s.register(reg, s.writeBackFailuresTotal, "checkin_source_write_back_failures_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Engine pass metrics implementation

func (s *PrometheusSink) PassStarted(window string) {
	s.passesTotal.WithLabelValues(window).Inc()
}

func (s *PrometheusSink) PassCompleted(window string, duration time.Duration, sent, skipped int, err error) {
	s.passDuration.WithLabelValues(window).Observe(duration.Seconds())
	s.passSentTotal.WithLabelValues(window).Add(float64(sent))
	s.passSkipped.WithLabelValues(window).Add(float64(skipped))
	if err != nil {
		s.passErrorsTotal.WithLabelValues(window).Inc()
	}
}

// Reminder job metrics implementation

func (s *PrometheusSink) JobScheduled(window string) {
	s.jobsScheduledTotal.WithLabelValues(window).Inc()
}

func (s *PrometheusSink) JobFired(window string, skipped bool) {
	label := "false"
	if skipped {
		label = "true"
	}
	s.jobsFiredTotal.WithLabelValues(window, label).Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) SendCompleted(endpoint, outcome string, duration time.Duration) {
	s.sendsTotal.WithLabelValues(endpoint, outcome).Inc()
	s.sendDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (s *PrometheusSink) AdminNotified() {
	s.adminNotified.Inc()
}

// Record source metrics implementation

func (s *PrometheusSink) WriteBackFailure() {
	s.writeBackFailuresTotal.Inc()
}
