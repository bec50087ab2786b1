package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testRegistry() *Registry {
	r := NewRegistry(zap.NewNop())
	r.Register(NewEmailNotifier(EmailConfig{GatewayURL: "http://mail.local"}))
	r.Register(NewSMSNotifier(SMSConfig{GatewayURL: "http://sms.local"}))
	r.Register(NewWebhookNotifier(WebhookConfig{}))
	return r
}

func TestMediumFor(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		attr   string
		want   string
		wantOK bool
	}{
		{"email", "email", true},
		{"workEmail", "email", true},
		{"phone", "sms", true},
		{"cellPhone", "sms", true},
		{"webhook", "webhook", true},
		{"opsWebhook", "webhook", true},
		{"pager", "", false},
	}
	for _, tt := range tests {
		got, ok := r.MediumFor(tt.attr)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("MediumFor(%q) = (%q, %v), want (%q, %v)", tt.attr, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestMediumFor_Deterministic(t *testing.T) {
	r := testRegistry()
	first, _ := r.MediumFor("email")
	for i := 0; i < 10; i++ {
		got, _ := r.MediumFor("email")
		if got != first {
			t.Fatalf("MediumFor changed from %q to %q", first, got)
		}
	}
}

func TestRegistry_Get(t *testing.T) {
	r := testRegistry()
	if _, ok := r.Get("email"); !ok {
		t.Error("expected email notifier")
	}
	if _, ok := r.Get("carrier-pigeon"); ok {
		t.Error("unexpected notifier")
	}
}

func TestWebhookNotifier_Delivers(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{Secret: "s3cret"})
	err := n.Notify(context.Background(), Notification{
		ProbeUUID: "p-1",
		ProbeName: "disk-full",
		Address:   srv.URL,
		Message:   "Probe \"disk-full\" entered status \"error\"",
		Time:      time.Unix(1000, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Errorf("X-Signature = %q, want %q", gotSig, want)
	}

	var payload Notification
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if payload.ProbeName != "disk-full" {
		t.Errorf("ProbeName = %q", payload.ProbeName)
	}
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{})
	err := n.Notify(context.Background(), Notification{Address: srv.URL})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestEmailNotifier_PostsToGateway(t *testing.T) {
	var got emailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %q, want /messages", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewEmailNotifier(EmailConfig{GatewayURL: srv.URL, From: "amon@example.com"})
	err := n.Notify(context.Background(), Notification{
		ProbeName: "disk-full",
		Address:   "bob@example.com",
		Message:   "boom",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.To != "bob@example.com" || got.From != "amon@example.com" {
		t.Errorf("request = %+v", got)
	}
}

func TestSMSNotifier_PostsToGateway(t *testing.T) {
	var got smsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSMSNotifier(SMSConfig{GatewayURL: srv.URL})
	err := n.Notify(context.Background(), Notification{
		ProbeName: "disk-full",
		Address:   "+15551234567",
		Message:   "boom",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.To != "+15551234567" {
		t.Errorf("To = %q", got.To)
	}
}
