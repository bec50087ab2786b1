package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Compile-time interface guard.
var _ Notifier = (*EmailNotifier)(nil)

// EmailConfig holds configuration for email delivery through the mail
// gateway.
type EmailConfig struct {
	GatewayURL string        `mapstructure:"gateway_url"`
	From       string        `mapstructure:"from"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// EmailNotifier delivers notifications by handing them to an HTTP mail
// gateway. The contact attribute's value is the recipient address.
type EmailNotifier struct {
	client *http.Client
	cfg    EmailConfig
}

// NewEmailNotifier creates an email notifier with the given config.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EmailNotifier{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
	}
}

// Type returns the notifier type identifier.
func (e *EmailNotifier) Type() string {
	return "email"
}

// AcceptsMedium accepts the "email" attribute and any "*Email" variant
// (e.g. "workEmail").
func (e *EmailNotifier) AcceptsMedium(attrName string) bool {
	return attrName == "email" || strings.HasSuffix(attrName, "Email")
}

// emailRequest is the JSON body handed to the mail gateway.
type emailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Notify submits the message to the mail gateway.
func (e *EmailNotifier) Notify(ctx context.Context, n Notification) error {
	msg := emailRequest{
		From:    e.cfg.From,
		To:      n.Address,
		Subject: fmt.Sprintf("[Amon] %s", n.ProbeName),
		Body:    n.Message,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.GatewayURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("email gateway POST: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email gateway POST: status %d", resp.StatusCode)
	}
	return nil
}
