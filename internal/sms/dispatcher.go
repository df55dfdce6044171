package sms

import (
	"context"
	"log"
	"time"
)

// Breaker guards an endpoint against repeated transport failures.
type Breaker interface {
	Allow(endpoint string) error
	RecordSuccess(endpoint string)
	RecordFailure(endpoint string)
}

// MetricsSink records dispatcher metrics. All methods are non-blocking
// and fire-and-forget.
type MetricsSink interface {
	SendCompleted(endpoint, outcome string, duration time.Duration)
	AdminNotified()
}

// Outcome labels for SendCompleted.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeBlocked  = "blocked"
)

// Dispatcher sends formatted messages through one transport, honoring the
// transport's mandated post-send delay. The delay only matters when sends
// share one lane; a scan pass runs its sends sequentially, so the gap
// falls out naturally.
type Dispatcher struct {
	transport Transport
	breaker   Breaker     // optional, nil = no guard
	metrics   MetricsSink // optional, nil = disabled
	adminNum  string      // optional admin relay contact
}

func NewDispatcher(transport Transport) *Dispatcher {
	return &Dispatcher{transport: transport}
}

func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

func (d *Dispatcher) WithMetrics(m MetricsSink) *Dispatcher {
	d.metrics = m
	return d
}

// WithAdminContact sets the number that receives row-level error relays.
func (d *Dispatcher) WithAdminContact(num string) *Dispatcher {
	d.adminNum = num
	return d
}

// HasAdminContact reports whether an admin relay number is configured.
func (d *Dispatcher) HasAdminContact() bool { return d.adminNum != "" }

// Send delivers one message. A breaker rejection or provider rejection
// comes back as *DeliveryError; the caller decides whether the flag stays
// unset for retry.
func (d *Dispatcher) Send(ctx context.Context, to, body string) (Receipt, error) {
	endpoint := d.transport.Name()

	if d.breaker != nil {
		if err := d.breaker.Allow(endpoint); err != nil {
			if d.metrics != nil {
				d.metrics.SendCompleted(endpoint, OutcomeBlocked, 0)
			}
			return Receipt{}, &DeliveryError{Endpoint: endpoint, Err: err}
		}
	}

	receipt, err := d.transport.Send(ctx, to, body)
	if err != nil {
		if d.breaker != nil {
			d.breaker.RecordFailure(endpoint)
		}
		if d.metrics != nil {
			d.metrics.SendCompleted(endpoint, OutcomeRejected, receipt.Duration)
		}
		return Receipt{}, err
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess(endpoint)
	}
	if d.metrics != nil {
		d.metrics.SendCompleted(endpoint, OutcomeSuccess, receipt.Duration)
	}

	if delay := d.transport.PostSendDelay(); delay > 0 {
		if err := wait(ctx, delay); err != nil {
			// Delivery already succeeded; report the receipt anyway.
			log.Printf("sms: post-send delay interrupted: %v", err)
		}
	}

	return receipt, nil
}

// NotifyAdmin relays a row-level failure to the admin contact.
// Best-effort: a failed relay is logged and never propagates.
func (d *Dispatcher) NotifyAdmin(ctx context.Context, message string) {
	if d.adminNum == "" {
		return
	}
	if _, err := d.Send(ctx, d.adminNum, message); err != nil {
		log.Printf("sms: admin notify failed: %v", err)
		return
	}
	if d.metrics != nil {
		d.metrics.AdminNotified()
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
