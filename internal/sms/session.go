package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionTransport sends through a gateway that authenticates once per
// session and holds the login in a cookie. The gateway imposes no
// inter-call delay.
type SessionTransport struct {
	client   *http.Client
	baseURL  string
	username string
	password string
	timeout  time.Duration

	mu       sync.Mutex
	loggedIn bool
}

func NewSessionTransport(baseURL, username, password string, timeout time.Duration) (*SessionTransport, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &SessionTransport{
		client:   &http.Client{Jar: jar},
		baseURL:  baseURL,
		username: username,
		password: password,
		timeout:  timeout,
	}, nil
}

func (t *SessionTransport) Name() string { return "session-gateway" }

func (t *SessionTransport) PostSendDelay() time.Duration { return 0 }

func (t *SessionTransport) login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"username": t.username,
		"password": t.password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/session", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("session login: status %d", resp.StatusCode)
	}
	t.loggedIn = true
	return nil
}

func (t *SessionTransport) Send(ctx context.Context, to, body string) (Receipt, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.loggedIn {
		if err := t.login(ctx); err != nil {
			return Receipt{}, &DeliveryError{Endpoint: t.Name(), Err: err}
		}
	}

	status, id, err := t.post(ctx, to, body)
	if err != nil {
		return Receipt{}, &DeliveryError{Endpoint: t.Name(), Err: err}
	}

	// An expired session surfaces as 401; log in again and retry once.
	if status == http.StatusUnauthorized {
		t.loggedIn = false
		if err := t.login(ctx); err != nil {
			return Receipt{}, &DeliveryError{Endpoint: t.Name(), Err: err}
		}
		status, id, err = t.post(ctx, to, body)
		if err != nil {
			return Receipt{}, &DeliveryError{Endpoint: t.Name(), Err: err}
		}
	}

	if status < 200 || status >= 300 {
		return Receipt{}, &DeliveryError{Endpoint: t.Name(), StatusCode: status, Message: "gateway rejected message"}
	}

	// The gateway does not always echo a message id; mint one locally so
	// every receipt is traceable in logs.
	if id == "" {
		id = uuid.NewString()
	}
	return Receipt{ID: id, Status: "sent", Duration: time.Since(start)}, nil
}

func (t *SessionTransport) post(ctx context.Context, to, body string) (status int, id string, err error) {
	payload, err := json.Marshal(map[string]string{"to": to, "body": body})
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var decoded struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded.ID, nil
}

var _ Transport = (*SessionTransport)(nil)
