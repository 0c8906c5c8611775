package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"geoplan/internal/model"
	"geoplan/internal/store"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"type":"plan.completed"}`)
	sig := SignHMAC("secret", body)
	if !VerifyHMAC("secret", body, sig) {
		t.Fatal("valid signature rejected")
	}
	if VerifyHMAC("other", body, sig) {
		t.Fatal("wrong secret accepted")
	}
	if VerifyHMAC("secret", []byte("tampered"), sig) {
		t.Fatal("tampered body accepted")
	}
	if VerifyHMAC("secret", body, "zz-not-hex") {
		t.Fatal("malformed signature accepted")
	}
}

func TestEmitEnqueuesForMatchingSubscriptions(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	if _, err := mem.CreateSubscription(ctx, model.SubscriptionRequest{
		URL: "https://example.com/hook", Events: []string{"plan.completed"}, Secret: "s",
	}); err != nil {
		t.Fatal(err)
	}

	pub := NewPublisher(mem)
	pub.Emit(ctx, "plan.completed", map[string]any{"city": "delhi"})
	pub.Emit(ctx, "plan.failed", map[string]any{"city": "delhi"})

	due, err := mem.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("deliveries = %d, want 1 (only the subscribed event)", len(due))
	}
	var payload struct {
		ID   string         `json:"id"`
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(due[0].Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Type != "plan.completed" || payload.Data["city"] != "delhi" {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.ID == "" {
		t.Error("missing event id")
	}
}

func TestWorkerDeliversAndSigns(t *testing.T) {
	var gotSig, gotType atomic.Value
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig.Store(r.Header.Get("X-Signature"))
		gotType.Store(r.Header.Get("X-Event-Type"))
		b, _ := io.ReadAll(r.Body)
		gotBody.Store(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mem := store.NewMemory()
	ctx := context.Background()
	if _, err := mem.CreateSubscription(ctx, model.SubscriptionRequest{
		URL: srv.URL, Events: []string{"plan.completed"}, Secret: "topsecret",
	}); err != nil {
		t.Fatal(err)
	}
	NewPublisher(mem).Emit(ctx, "plan.completed", map[string]any{"city": "delhi"})

	w := NewWorker(mem)
	w.processOnce()

	body, _ := gotBody.Load().([]byte)
	if body == nil {
		t.Fatal("webhook endpoint never called")
	}
	sig, _ := gotSig.Load().(string)
	if !VerifyHMAC("topsecret", body, sig) {
		t.Fatal("delivery signature invalid")
	}
	if et, _ := gotType.Load().(string); et != "plan.completed" {
		t.Fatalf("event type header = %q", et)
	}
	if due, _ := mem.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatal("delivered webhook still pending")
	}
}

func TestWorkerReschedulesFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	mem := store.NewMemory()
	ctx := context.Background()
	if _, err := mem.CreateSubscription(ctx, model.SubscriptionRequest{
		URL: srv.URL, Events: []string{"*"}, Secret: "s",
	}); err != nil {
		t.Fatal(err)
	}
	NewPublisher(mem).Emit(ctx, "plan.failed", map[string]any{"city": "delhi"})

	w := NewWorker(mem)
	w.processOnce()
	if n := calls.Load(); n != 1 {
		t.Fatalf("endpoint hit %d times", n)
	}
	// first failure backs off ~1s; nothing due right away
	if due, _ := mem.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatal("failed delivery due again immediately")
	}
	// a second pass without anything due must not call the endpoint
	w.processOnce()
	if n := calls.Load(); n != 1 {
		t.Fatalf("endpoint hit %d times after idle pass", n)
	}
}

func TestWorkerFailsAtMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mem := store.NewMemory()
	ctx := context.Background()
	if _, err := mem.CreateSubscription(ctx, model.SubscriptionRequest{
		URL: srv.URL, Events: []string{"*"}, Secret: "s",
	}); err != nil {
		t.Fatal(err)
	}
	NewPublisher(mem).Emit(ctx, "plan.completed", nil)

	w := NewWorker(mem)
	w.MaxAttempts = 1
	w.processOnce()

	// terminal: neither due nor retried
	if due, _ := mem.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatal("delivery not terminally failed at max attempts")
	}
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(0); got != time.Second {
		t.Errorf("attempt 0: %v", got)
	}
	if got := nextBackoff(3); got != 8*time.Second {
		t.Errorf("attempt 3: %v", got)
	}
	// last uncapped step, then the hour cap takes over
	if got := nextBackoff(11); got != 2048*time.Second {
		t.Errorf("attempt 11: %v", got)
	}
	if got := nextBackoff(12); got != time.Hour {
		t.Errorf("attempt 12: %v", got)
	}
	if got := nextBackoff(20); got != time.Hour {
		t.Errorf("cap: %v", got)
	}
	if got := nextBackoff(-1); got != time.Second {
		t.Errorf("negative: %v", got)
	}
}
