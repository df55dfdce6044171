package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioTransport sends through the Twilio REST API. Twilio meters
// outbound messages per second, so this transport reports a fixed
// post-send delay that the dispatcher honors between calls on one lane.
type TwilioTransport struct {
	client     *http.Client
	baseURL    string
	accountSID string
	authToken  string
	from       string
	timeout    time.Duration
	delay      time.Duration
}

func NewTwilioTransport(accountSID, authToken, from string, timeout, delay time.Duration) *TwilioTransport {
	return &TwilioTransport{
		client:     &http.Client{},
		baseURL:    twilioAPIBase,
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		timeout:    timeout,
		delay:      delay,
	}
}

// WithBaseURL overrides the API endpoint, for tests.
func (t *TwilioTransport) WithBaseURL(base string) *TwilioTransport {
	t.baseURL = base
	return t
}

func (t *TwilioTransport) Name() string { return "twilio" }

func (t *TwilioTransport) PostSendDelay() time.Duration { return t.delay }

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *TwilioTransport) Send(ctx context.Context, to, body string) (Receipt, error) {
	start := time.Now()

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.from)
	form.Set("Body", body)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.baseURL, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Receipt{}, &DeliveryError{Endpoint: t.Name(), Err: err}
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return Receipt{}, &DeliveryError{Endpoint: t.Name(), Err: err}
	}
	defer resp.Body.Close()

	var decoded twilioResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && resp.StatusCode < 300 {
		return Receipt{}, &DeliveryError{Endpoint: t.Name(), Err: fmt.Errorf("decode: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, &DeliveryError{
			Endpoint:   t.Name(),
			StatusCode: resp.StatusCode,
			Message:    decoded.Message,
		}
	}

	return Receipt{
		ID:       decoded.SID,
		Status:   decoded.Status,
		Duration: time.Since(start),
	}, nil
}

var _ Transport = (*TwilioTransport)(nil)
