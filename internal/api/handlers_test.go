package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"geoplan/internal/config"
	"geoplan/internal/geocode"
	"geoplan/internal/maprender"
	"geoplan/internal/model"
	"geoplan/internal/store"
	"geoplan/internal/webhooks"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("SOLVER_BUDGET_MS", "100")
	mem := store.NewMemory()
	return &Server{
		Store:  mem,
		Cfg:    config.Config{Port: "8080", Cities: []model.City{config.DefaultCity}},
		Geo:    geocode.NewClient(),
		Pub:    webhooks.NewPublisher(mem),
		Broker: NewBroker(),
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCitiesHandler(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.CitiesHandler(rec, httptest.NewRequest(http.MethodGet, "/plan/cities", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Cities []string `json:"cities"`
	}
	decode(t, rec, &out)
	if len(out.Cities) != 1 || out.Cities[0] != "delhi" {
		t.Fatalf("cities = %v", out.Cities)
	}

	rec = httptest.NewRecorder()
	s.CitiesHandler(rec, httptest.NewRequest(http.MethodPost, "/plan/cities", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDarkstoresRun(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"max_time_min":15,"capacity":100}`)
	rec := httptest.NewRecorder()
	s.DarkstoresHandler(rec, httptest.NewRequest(http.MethodPost, "/plan/darkstores?city=delhi", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out model.PlanResponse
	decode(t, rec, &out)
	if out.City != "delhi" {
		t.Errorf("city echo = %q", out.City)
	}
	if len(out.GeoJSON.Features) == 0 {
		t.Fatal("empty geojson")
	}
	if out.Stats.TotalCandidates != len(out.GeoJSON.Features) {
		t.Errorf("candidates %d vs features %d", out.Stats.TotalCandidates, len(out.GeoJSON.Features))
	}
	if out.Stats.StoresOpen == 0 {
		t.Error("no stores opened")
	}
	if out.Stats.TotalCustomers == 0 {
		t.Error("no customers counted")
	}
}

func TestDarkstoresEmptyBodyUsesDefaults(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.DarkstoresHandler(rec, httptest.NewRequest(http.MethodPost, "/plan/darkstores", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out model.PlanResponse
	decode(t, rec, &out)
	if out.City != "delhi" {
		t.Errorf("default city = %q", out.City)
	}
}

func TestDarkstoresUnknownCity(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.DarkstoresHandler(rec, httptest.NewRequest(http.MethodPost, "/plan/darkstores?city=atlantis", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q", ct)
	}
	var p Problem
	decode(t, rec, &p)
	if p.Title != "Unknown city" || p.Status != http.StatusNotFound {
		t.Errorf("problem = %+v", p)
	}
}

func TestDarkstoresInvalidJSON(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.DarkstoresHandler(rec, httptest.NewRequest(http.MethodPost, "/plan/darkstores", strings.NewReader("{nope")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestInsightsAfterRun(t *testing.T) {
	s := newTestServer(t)

	// no plan yet
	rec := httptest.NewRecorder()
	s.InsightsHandler(rec, httptest.NewRequest(http.MethodGet, "/plan/insights", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var p Problem
	decode(t, rec, &p)
	if p.Title != "No optimization plan found" {
		t.Errorf("problem = %+v", p)
	}

	rec = httptest.NewRecorder()
	s.DarkstoresHandler(rec, httptest.NewRequest(http.MethodPost, "/plan/darkstores", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.InsightsHandler(rec, httptest.NewRequest(http.MethodGet, "/plan/insights", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var ins model.Insights
	decode(t, rec, &ins)
	if ins.Summary.TotalCandidates == 0 {
		t.Error("empty summary")
	}
	if len(ins.Clusters) == 0 {
		t.Error("no clusters")
	}
	if ins.Coverage.MaxTravelMin < ins.Coverage.P90TravelMin {
		t.Errorf("coverage out of order: %+v", ins.Coverage)
	}
}

func TestRenderModel(t *testing.T) {
	s := newTestServer(t)

	// without a plan, an empty model centered on the city
	rec := httptest.NewRecorder()
	s.RenderHandler(rec, httptest.NewRequest(http.MethodGet, "/plan/render?city=delhi", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var m maprender.RenderModel
	decode(t, rec, &m)
	if len(m.Markers) != 0 || m.Bounds != nil {
		t.Fatalf("expected empty model, got %+v", m)
	}
	if m.Center.Lat != 28.6139 {
		t.Errorf("center = %+v", m.Center)
	}

	rec = httptest.NewRecorder()
	s.DarkstoresHandler(rec, httptest.NewRequest(http.MethodPost, "/plan/darkstores?city=delhi", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.RenderHandler(rec, httptest.NewRequest(http.MethodGet, "/plan/render?city=delhi", nil))
	decode(t, rec, &m)
	if len(m.Markers) == 0 {
		t.Fatal("no markers after run")
	}
	if m.Bounds == nil {
		t.Fatal("no bounds after run")
	}
	openMarkers := 0
	for _, mk := range m.Markers {
		if mk.Open {
			openMarkers++
			if mk.Color != "green" {
				t.Errorf("open marker color = %s", mk.Color)
			}
		}
	}
	if len(m.Heat) != openMarkers {
		t.Errorf("heat points %d, open markers %d", len(m.Heat), openMarkers)
	}
}

func TestStateAndReset(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.StateHandler(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	var st map[string]any
	decode(t, rec, &st)
	if st["has_plan"] != false {
		t.Fatalf("state = %v", st)
	}

	rec = httptest.NewRecorder()
	s.DarkstoresHandler(rec, httptest.NewRequest(http.MethodPost, "/plan/darkstores", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.StateHandler(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	decode(t, rec, &st)
	if st["has_plan"] != true || st["candidates"].(float64) == 0 {
		t.Fatalf("state = %v", st)
	}

	rec = httptest.NewRecorder()
	s.StateResetHandler(rec, httptest.NewRequest(http.MethodPost, "/state/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.StateHandler(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	decode(t, rec, &st)
	if st["has_plan"] != false {
		t.Fatal("reset did not clear state")
	}
}

func TestStateResetRequiresAdminToken(t *testing.T) {
	s := newTestServer(t)
	s.Cfg.AdminToken = "sekrit"

	rec := httptest.NewRecorder()
	s.StateResetHandler(rec, httptest.NewRequest(http.MethodPost, "/state/reset", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status without token = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/state/reset", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	s.StateResetHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d", rec.Code)
	}
}

func TestGeocodeHandlerShortQuery(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.GeocodeHandler(rec, httptest.NewRequest(http.MethodGet, "/geocode/search?q=ab", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Results []model.Place `json:"results"`
	}
	decode(t, rec, &out)
	if len(out.Results) != 0 {
		t.Fatalf("results = %v", out.Results)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"url":"https://example.com/hook","events":["plan.completed"],"secret":"s"}`)
	s.SubscriptionsHandler(rec, httptest.NewRequest(http.MethodPost, "/subscriptions", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var sub model.Subscription
	decode(t, rec, &sub)
	if sub.ID == "" {
		t.Fatal("missing id")
	}

	rec = httptest.NewRecorder()
	s.SubscriptionsHandler(rec, httptest.NewRequest(http.MethodGet, "/subscriptions", nil))
	var list struct {
		Items []model.Subscription `json:"items"`
	}
	decode(t, rec, &list)
	if len(list.Items) != 1 {
		t.Fatalf("items = %v", list.Items)
	}

	rec = httptest.NewRecorder()
	s.SubscriptionByIDHandler(rec, httptest.NewRequest(http.MethodDelete, "/subscriptions/"+sub.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	s.SubscriptionByIDHandler(rec, httptest.NewRequest(http.MethodDelete, "/subscriptions/"+sub.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("double delete status = %d", rec.Code)
	}
}

func TestSubscriptionValidation(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.SubscriptionsHandler(rec, httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(`{"url":""}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRunEmitsWebhooksAndBrokerEvents(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"url":"https://example.com/hook","events":["plan.completed"],"secret":"s"}`)
	s.SubscriptionsHandler(rec, httptest.NewRequest(http.MethodPost, "/subscriptions", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	ch := s.Broker.Subscribe("delhi")
	defer s.Broker.Unsubscribe("delhi", ch)

	rec = httptest.NewRecorder()
	s.DarkstoresHandler(rec, httptest.NewRequest(http.MethodPost, "/plan/darkstores?city=delhi", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}

	select {
	case evt := <-ch:
		if evt.Type != "plan.completed" || evt.Data["city"] != "delhi" {
			t.Fatalf("event = %+v", evt)
		}
	default:
		t.Fatal("no broker event published")
	}

	due, err := s.Store.FetchDueWebhookDeliveries(httptest.NewRequest(http.MethodGet, "/", nil).Context(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].EventType != "plan.completed" {
		t.Fatalf("deliveries = %+v", due)
	}
}

func TestHealthHandlers(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	s.ReadyHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
}
