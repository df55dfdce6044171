package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Engine pass metrics
	s.PassStarted("24h")
	s.PassCompleted("24h", 100*time.Millisecond, 5, 2, nil)
	s.PassCompleted("1h", 100*time.Millisecond, 0, 0, errors.New("source error"))

	// Reminder job metrics
	s.JobScheduled("1h")
	s.JobFired("1h", false)
	s.JobFired("1h", true)

	// Dispatcher metrics
	s.SendCompleted("twilio", "success", 200*time.Millisecond)
	s.AdminNotified()

	// Record source metrics
	s.WriteBackFailure()
}
