package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) PassStarted(window string)                                                 {}
func (n *NoopSink) PassCompleted(window string, d time.Duration, sent, skipped int, e error)  {}
func (n *NoopSink) JobScheduled(window string)                                                {}
func (n *NoopSink) JobFired(window string, skipped bool)                                      {}
func (n *NoopSink) SendCompleted(endpoint, outcome string, duration time.Duration)            {}
func (n *NoopSink) AdminNotified()                                                            {}
func (n *NoopSink) WriteBackFailure()                                                         {}

var _ Sink = (*NoopSink)(nil)
var _ Sink = (*PrometheusSink)(nil)
