package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"geoplan/internal/maprender"
	"geoplan/internal/metrics"
	"geoplan/internal/model"
	"geoplan/internal/opt"
	"geoplan/internal/store"
)

const (
	defaultMaxTimeMin = 10
	defaultCapacity   = 200
	travelSpeedKph    = 30.0
	solverSeed        = 42
)

func solverBudget() time.Duration {
	if v := os.Getenv("SOLVER_BUDGET_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return 2 * time.Second
}

// CitiesHandler handles GET /plan/cities.
func (s *Server) CitiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	names := make([]string, 0, len(s.Cfg.Cities))
	for _, c := range s.Cfg.Cities {
		names = append(names, c.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{"cities": names})
}

// DarkstoresHandler handles POST /plan/darkstores?city=<id>. It extracts the
// city's points, solves the facility-location problem, persists the plan as
// the new insights basis, and returns geojson and stats from one response.
func (s *Server) DarkstoresHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cityName := r.URL.Query().Get("city")
	if cityName == "" {
		cityName = s.Cfg.Cities[0].Name
	}
	city, ok := s.Cfg.CityByName(cityName)
	if !ok {
		writeProblem(w, http.StatusNotFound, "Unknown city", cityName, r.URL.Path)
		return
	}
	req := model.PlanRequest{MaxTimeMin: defaultMaxTimeMin, Capacity: defaultCapacity}
	if r.Body != nil {
		// empty body keeps defaults
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
	}
	if req.MaxTimeMin <= 0 {
		req.MaxTimeMin = defaultMaxTimeMin
	}
	if req.Capacity <= 0 {
		req.Capacity = defaultCapacity
	}

	start := time.Now()
	plan, err := s.runPlan(r.Context(), city, req)
	if err != nil {
		metrics.PlanRuns.WithLabelValues(city.Name, "error").Inc()
		s.Broker.Publish(city.Name, PlanEvent{Type: "plan.failed", Data: map[string]any{"city": city.Name, "error": err.Error()}})
		s.Pub.Emit(r.Context(), "plan.failed", map[string]any{"city": city.Name, "error": err.Error()})
		writeProblem(w, http.StatusInternalServerError, "Optimization failed", err.Error(), r.URL.Path)
		return
	}
	metrics.PlanRuns.WithLabelValues(city.Name, "ok").Inc()
	metrics.PlanDuration.WithLabelValues(city.Name).Observe(time.Since(start).Seconds())

	evt := map[string]any{
		"city":        city.Name,
		"stores_open": plan.Stats.StoresOpen,
		"ts":          plan.CreatedAt,
	}
	s.Broker.Publish(city.Name, PlanEvent{Type: "plan.completed", Data: evt})
	s.Pub.Emit(r.Context(), "plan.completed", evt)

	writeJSON(w, http.StatusOK, model.PlanResponse{
		City:    city.Name,
		GeoJSON: model.ToGeoJSON(plan.Stores),
		Stats:   plan.Stats,
	})
}

// runPlan loads city points, solves, and persists the result.
func (s *Server) runPlan(ctx context.Context, city model.City, req model.PlanRequest) (model.PlanResult, error) {
	start := time.Now()
	sites, customers, err := s.Store.CityPoints(ctx, city)
	if err != nil {
		return model.PlanResult{}, err
	}

	optSites := make([]opt.Site, len(sites))
	for i, st := range sites {
		cost := st.FixedCost
		if req.FixedCost > 0 {
			cost = req.FixedCost
		}
		optSites[i] = opt.Site{ID: st.ID, Lat: st.Lat, Lng: st.Lng, FixedCost: cost}
	}
	optCustomers := make([]opt.Customer, len(customers))
	for j, c := range customers {
		optCustomers[j] = opt.Customer{ID: c.ID, Lat: c.Lat, Lng: c.Lng, Demand: c.Demand}
	}

	problem := opt.Problem{
		Sites:        optSites,
		Customers:    optCustomers,
		MaxTravelMin: float64(req.MaxTimeMin),
		Capacity:     req.Capacity,
		SpeedKph:     travelSpeedKph,
		Travel:       s.travelFunc(ctx),
	}
	sol, _, err := opt.Solve(problem, solverSeed, solverBudget())
	if err != nil {
		return model.PlanResult{}, err
	}

	stores := make([]model.PlannedStore, len(sites))
	for i, st := range sites {
		stores[i] = model.PlannedStore{
			ID: st.ID, Lat: st.Lat, Lng: st.Lng,
			Open:      sol.Open[i],
			FixedCost: optSites[i].FixedCost,
		}
	}
	var assignments []model.Assignment
	sumTravel, failed := 0.0, 0
	for j, si := range sol.Assign {
		if si < 0 {
			failed++
			continue
		}
		assignments = append(assignments, model.Assignment{
			CustomerID: customers[j].ID,
			StoreID:    sites[si].ID,
			TravelMin:  sol.TravelMin[j],
			Lat:        customers[j].Lat,
			Lng:        customers[j].Lng,
		})
		sumTravel += sol.TravelMin[j]
	}

	stats := opt.Summarize(stores)
	stats.TotalCustomers = len(customers)
	stats.FailedCustomers = failed
	if len(assignments) > 0 {
		stats.AvgTravelMin = sumTravel / float64(len(assignments))
	}
	stats.ExecutionTimeSec = math.Round(time.Since(start).Seconds()*100) / 100

	plan := model.PlanResult{
		City:        city.Name,
		Stores:      stores,
		Assignments: assignments,
		Stats:       stats,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.Store.SavePlan(ctx, plan); err != nil {
		return model.PlanResult{}, err
	}
	return plan, nil
}

// travelFunc routes travel time through the store (PostGIS when available)
// and falls back to a haversine estimate if the store call fails.
func (s *Server) travelFunc(ctx context.Context) opt.TravelFunc {
	return func(aLat, aLng, bLat, bLng float64) float64 {
		t, err := s.Store.TravelMinutes(ctx,
			model.GeoPoint{Lat: aLat, Lng: aLng},
			model.GeoPoint{Lat: bLat, Lng: bLng},
			travelSpeedKph)
		if err != nil {
			return haversineMinutes(aLat, aLng, bLat, bLng, travelSpeedKph)
		}
		return t
	}
}

// InsightsHandler handles GET /plan/insights, reporting on the most recent
// completed run.
func (s *Server) InsightsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	plan, err := s.Store.LatestPlan(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "No optimization plan found", "Run /plan/darkstores first.", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Insights failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, opt.BuildInsights(plan))
}

// RenderHandler handles GET /plan/render?city=. It returns the layer model
// the map page applies: markers, heat points, and fit bounds.
func (s *Server) RenderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cityName := r.URL.Query().Get("city")
	var plan model.PlanResult
	var err error
	if cityName == "" {
		plan, err = s.Store.LatestPlan(r.Context())
	} else {
		plan, err = s.Store.GetPlan(r.Context(), cityName)
	}
	center := cityCenter(s, cityName)
	renderer := maprender.New(center, 11)
	if err == nil {
		if rerr := renderer.SetData(model.ToGeoJSON(plan.Stores)); rerr != nil {
			writeProblem(w, http.StatusInternalServerError, "Render failed", rerr.Error(), r.URL.Path)
			return
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusInternalServerError, "Render failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, renderer.Model())
}

// StateHandler handles GET /state, exposing the currently loaded plan basis.
func (s *Server) StateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	plan, err := s.Store.LatestPlan(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"candidates": 0, "customers": 0, "has_plan": false})
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "State failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": len(plan.Stores),
		"customers":  plan.Stats.TotalCustomers,
		"has_plan":   true,
	})
}

// StateResetHandler handles POST /state/reset.
func (s *Server) StateResetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.isAdmin(r) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin token required", r.URL.Path)
		return
	}
	if err := s.Store.Reset(r.Context()); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Reset failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GeocodeHandler handles GET /geocode/search?q=, proxying Nominatim so the
// browser never calls OSM directly and the rate limit is enforced centrally.
func (s *Server) GeocodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query().Get("q")
	results, err := s.Geo.Search(r.Context(), query)
	if err != nil {
		metrics.GeocodeRequests.WithLabelValues("error").Inc()
		writeProblem(w, http.StatusBadGateway, "Geocode failed", err.Error(), r.URL.Path)
		return
	}
	metrics.GeocodeRequests.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// SubscriptionsHandler handles POST/GET /subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.URL == "" || len(req.Events) == 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events required", r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		subs, err := s.Store.ListSubscriptions(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": subs})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /subscriptions/{id}.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/subscriptions/")
	if id == "" || id == r.URL.Path {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeProblem(w, status, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using the Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func cityCenter(s *Server, cityName string) model.GeoPoint {
	if cityName != "" {
		if c, ok := s.Cfg.CityByName(cityName); ok {
			return c.Center
		}
	}
	if len(s.Cfg.Cities) > 0 {
		return s.Cfg.Cities[0].Center
	}
	return model.GeoPoint{Lat: 28.6139, Lng: 77.2090}
}

func haversineMinutes(lat1, lon1, lat2, lon2, speedKph float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	km := R * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return km / speedKph * 60.0
}
