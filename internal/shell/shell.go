// Package shell owns the application state for one planning session and
// orchestrates the geocode and plan clients.
//
// State changes only through the named transitions below, all under one
// mutex. Every run is tagged with a monotonic generation; a completion whose
// generation is no longer current is dropped, so an overlapping older run
// can never overwrite a newer one.
package shell

import (
	"context"
	"sync"
	"time"

	"geoplan/internal/geocode"
	"geoplan/internal/maprender"
	"geoplan/internal/model"
	"geoplan/internal/planclient"
)

// FallbackCity is used when the city list cannot be fetched.
const FallbackCity = "delhi"

// State is a snapshot of the session. Everything here is in-memory and
// ephemeral; nothing survives the process.
type State struct {
	City       string
	Cities     []string
	Loading    bool
	LoadingMsg string
	LastRun    time.Time
	Stats      *model.PlanStats
	Insights   *model.Insights
	Geo        *model.FeatureCollection
	Selected   *model.Place
	Results    []model.Place
	LastError  string
}

type Shell struct {
	Plans *planclient.Client
	Geo   *geocode.Client
	Map   *maprender.Renderer

	mu  sync.Mutex
	st  State
	gen uint64
	deb *geocode.Debouncer
}

func New(plans *planclient.Client, geo *geocode.Client, m *maprender.Renderer) *Shell {
	return &Shell{
		Plans: plans,
		Geo:   geo,
		Map:   m,
		st:    State{City: FallbackCity},
		deb:   geocode.NewDebouncer(geocode.DefaultDebounce),
	}
}

// Snapshot returns a copy of the current state.
func (s *Shell) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	st.Cities = append([]string(nil), s.st.Cities...)
	st.Results = append([]model.Place(nil), s.st.Results...)
	return st
}

// --- transitions ---

// CitiesLoaded records the fetched city list, falling back to one fixed
// city on failure. The selected city is kept if still listed.
func (s *Shell) CitiesLoaded(cities []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || len(cities) == 0 {
		s.st.Cities = []string{FallbackCity}
		s.st.City = FallbackCity
		return
	}
	s.st.Cities = cities
	for _, c := range cities {
		if c == s.st.City {
			return
		}
	}
	s.st.City = cities[0]
}

// SelectCity switches the active city if it is in the list.
func (s *Shell) SelectCity(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.st.Cities {
		if c == name {
			s.st.City = name
			return
		}
	}
}

// runStarted flags loading and clears insights: insights describe the most
// recent run, and a new run is now in flight. Returns the run generation.
func (s *Shell) runStarted(msg string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.st.Loading = true
	s.st.LoadingMsg = msg
	s.st.LastError = ""
	s.st.Insights = nil
	return s.gen
}

// runSucceeded commits geo data and stats atomically from one response.
// Stale generations are dropped.
func (s *Shell) runSucceeded(gen uint64, resp model.PlanResponse) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	fc := resp.GeoJSON
	s.st.Geo = &fc
	stats := resp.Stats
	s.st.Stats = &stats
	s.st.LastRun = time.Now()
	s.st.Loading = false
	s.st.LoadingMsg = ""
	return true
}

// runFailed surfaces the error and clears loading; previous stats stay.
func (s *Shell) runFailed(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.st.Loading = false
	s.st.LoadingMsg = ""
	s.st.LastError = err.Error()
}

// insightsLoaded stores fetched insights. On failure, previously displayed
// insights are kept and only the error is surfaced.
func (s *Shell) insightsLoaded(ins model.Insights, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.st.LastError = err.Error()
		return
	}
	s.st.Insights = &ins
}

// LocationSelected records a search selection and moves the focus marker.
func (s *Shell) LocationSelected(p model.Place) {
	s.mu.Lock()
	s.st.Selected = &p
	s.st.Results = nil
	s.mu.Unlock()
	if s.Map != nil {
		s.Map.SetFocus(p)
	}
}

func (s *Shell) searchResults(places []model.Place, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.st.Results = nil
		s.st.LastError = err.Error()
		return
	}
	s.st.Results = places
}

// --- orchestration ---

// LoadCities fetches the city list once; failure falls back silently.
func (s *Shell) LoadCities(ctx context.Context) {
	cities, err := s.Plans.Cities(ctx)
	s.CitiesLoaded(cities, err)
}

// RunOptimization executes one run against the selected city. Loading is
// cleared on every path. Insights for the new plan are fetched after a
// successful run; an insights failure does not fail the run.
func (s *Shell) RunOptimization(ctx context.Context, params model.PlanRequest) error {
	s.mu.Lock()
	city := s.st.City
	s.mu.Unlock()

	gen := s.runStarted("Optimizing darkstore network for " + city)
	resp, err := s.Plans.Run(ctx, city, params)
	if err != nil {
		s.runFailed(gen, err)
		return err
	}
	if !s.runSucceeded(gen, resp) {
		return nil // superseded by a newer run
	}
	if s.Map != nil {
		if err := s.Map.SetData(resp.GeoJSON); err != nil {
			return err
		}
	}
	ins, err := s.Plans.Insights(ctx)
	s.insightsLoaded(ins, err)
	return nil
}

// Search issues a debounced geocode query; only the last call within the
// window fires. Results land in the state asynchronously.
func (s *Shell) Search(ctx context.Context, query string) {
	s.deb.Do(func() {
		places, err := s.Geo.Search(ctx, query)
		s.searchResults(places, err)
	})
}

// Close cancels any pending debounced search.
func (s *Shell) Close() {
	s.deb.Stop()
}
