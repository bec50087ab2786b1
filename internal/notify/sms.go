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
var _ Notifier = (*SMSNotifier)(nil)

// SMSConfig holds configuration for SMS delivery through the SMS gateway.
type SMSConfig struct {
	GatewayURL string        `mapstructure:"gateway_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// SMSNotifier delivers notifications through an HTTP SMS gateway. The
// contact attribute's value is the phone number.
type SMSNotifier struct {
	client *http.Client
	cfg    SMSConfig
}

// NewSMSNotifier creates an SMS notifier with the given config.
func NewSMSNotifier(cfg SMSConfig) *SMSNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMSNotifier{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
	}
}

// Type returns the notifier type identifier.
func (s *SMSNotifier) Type() string {
	return "sms"
}

// AcceptsMedium accepts the "phone" attribute and any "*Phone" variant
// (e.g. "cellPhone").
func (s *SMSNotifier) AcceptsMedium(attrName string) bool {
	return attrName == "phone" || strings.HasSuffix(attrName, "Phone")
}

// smsRequest is the JSON body handed to the SMS gateway.
type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// Notify submits the message to the SMS gateway.
func (s *SMSNotifier) Notify(ctx context.Context, n Notification) error {
	// SMS payloads are short; lead with the probe name.
	msg := smsRequest{
		To:      n.Address,
		Message: fmt.Sprintf("%s: %s", n.ProbeName, n.Message),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway POST: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway POST: status %d", resp.StatusCode)
	}
	return nil
}
