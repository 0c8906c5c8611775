package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"geoplan/internal/api"
	"geoplan/internal/config"
	"geoplan/internal/geocode"
	"geoplan/internal/model"
	"geoplan/internal/store"
	"geoplan/internal/webhooks"
)

func TestLogMiddlewarePreservesWebsocketUpgrade(t *testing.T) {
	mem := store.NewMemory()
	srv := &api.Server{
		Store:  mem,
		Cfg:    config.Config{Port: "8080", Cities: []model.City{config.DefaultCity}},
		Geo:    geocode.NewClient(),
		Pub:    webhooks.NewPublisher(mem),
		Broker: api.NewBroker(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/plan/ws", srv.PlanWSHandler)
	ts := httptest.NewServer(logMiddleware(mux))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/plan/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial through middleware failed: %v (status %d)", err, status)
	}
	defer conn.Close()

	// round trip through the upgraded connection
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "pong" {
		t.Fatalf("reply type = %q, want pong", msg.Type)
	}
}

func TestStatusRecorderPassesStatusThrough(t *testing.T) {
	h := logMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}
