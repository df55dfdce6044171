// Package sms delivers reminder texts through pluggable transports.
package sms

import (
	"context"
	"fmt"
	"time"
)

// Receipt is the provider's acknowledgement of an accepted message.
type Receipt struct {
	ID       string // provider message identifier
	Status   string
	Duration time.Duration
}

// DeliveryError reports a transport rejection: an HTTP-level failure or a
// provider-reported failure code. Sends that fail this way leave the
// completion flag untouched and become eligible for retry on a later pass.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery via %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("delivery via %s failed: status=%d %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Transport is the provider capability. PostSendDelay is the fixed
// minimum gap a provider mandates between calls on one worker; zero means
// the provider imposes none.
type Transport interface {
	Name() string
	Send(ctx context.Context, to, body string) (Receipt, error)
	PostSendDelay() time.Duration
}
