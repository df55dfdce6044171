package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Engine pass metrics
	PassStarted(window string)
	PassCompleted(window string, duration time.Duration, sent, skipped int, err error)

	// Reminder job metrics
	JobScheduled(window string)
	JobFired(window string, skipped bool)

	// Dispatcher metrics
	SendCompleted(endpoint, outcome string, duration time.Duration)
	AdminNotified()

	// Record source metrics
	WriteBackFailure()
}
