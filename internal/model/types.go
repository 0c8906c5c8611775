package model

// Core domain types for darkstore network planning.

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// City describes one planning region served by the API.
type City struct {
	Name    string   `json:"city" yaml:"city"`
	OSMFile string   `json:"osm_file,omitempty" yaml:"osm_file,omitempty"`
	DSN     string   `json:"-" yaml:"dsn,omitempty"`
	Center  GeoPoint `json:"center" yaml:"center"`
}

// Site is a darkstore candidate location.
type Site struct {
	ID        int64   `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lon"`
	FixedCost float64 `json:"fixed_cost"`
}

// Customer is a demand point assigned to an open site.
type Customer struct {
	ID     int64   `json:"id"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lon"`
	Demand int     `json:"demand"`
}

// PlanRequest carries the tunable optimization parameters.
type PlanRequest struct {
	MaxTimeMin int     `json:"max_time_min"`
	Capacity   int     `json:"capacity"`
	FixedCost  float64 `json:"fixed_cost,omitempty"`
}

// Assignment maps one customer to its serving store.
type Assignment struct {
	CustomerID int64   `json:"customer_id"`
	StoreID    int64   `json:"store_id"`
	TravelMin  float64 `json:"travel_min"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lon"`
}

// PlannedStore is one candidate with its open/closed decision.
type PlannedStore struct {
	ID        int64   `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lon"`
	Open      bool    `json:"open"`
	FixedCost float64 `json:"fixed_cost"`
}

// GeoBounds is the bounding box of a plan's candidates.
type GeoBounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// PlanStats is the flat summary record returned with every run.
// Replaced wholesale on each run; never patched incrementally.
type PlanStats struct {
	StoresOpen         int        `json:"stores_open"`
	AvgTravelMin       float64    `json:"avg_travel_min"`
	TotalCustomers     int        `json:"total_customers"`
	FailedCustomers    int        `json:"failed_customers,omitempty"`
	TotalCandidates    int        `json:"total_candidates"`
	ClosedStores       int        `json:"closed_stores"`
	OpenPct            float64    `json:"open_pct"`
	AvgFixedCostOpen   float64    `json:"avg_fixed_cost_open"`
	AvgFixedCostClosed float64    `json:"avg_fixed_cost_closed"`
	GeoBounds          *GeoBounds `json:"geo_bounds,omitempty"`
	ExecutionTimeSec   float64    `json:"execution_time_sec"`
}

// PlanResult is the full outcome of one optimization run, persisted as the
// basis for /plan/insights until the next run or a reset.
type PlanResult struct {
	City        string       `json:"city"`
	Stores      []PlannedStore `json:"stores"`
	Assignments []Assignment `json:"assignments"`
	Stats       PlanStats    `json:"stats"`
	CreatedAt   string       `json:"created_at"`
}

// PlanResponse is the wire shape of POST /plan/darkstores.
type PlanResponse struct {
	City    string            `json:"city"`
	GeoJSON FeatureCollection `json:"geojson"`
	Stats   PlanStats         `json:"stats"`
}

// Cluster is one KMeans region of open stores.
type Cluster struct {
	ClusterID    int     `json:"cluster_id"`
	Count        int     `json:"count"`
	CenterLat    float64 `json:"center_lat"`
	CenterLon    float64 `json:"center_lon"`
	AvgFixedCost float64 `json:"avg_fixed_cost"`
}

// Coverage summarizes the customer travel-time distribution.
type Coverage struct {
	AvgTravelMin float64 `json:"avg_travel_min"`
	P90TravelMin float64 `json:"p90_travel_min"`
	MaxTravelMin float64 `json:"max_travel_min"`
}

// Insights is the post-optimization analytics block for the most recent run.
type Insights struct {
	Summary  PlanStats `json:"summary"`
	Coverage Coverage  `json:"coverage"`
	Clusters []Cluster `json:"clusters"`
}

// SubscriptionRequest registers a webhook endpoint for plan events.
type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

// Subscription is a registered webhook endpoint.
type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// Place is a normalized geocoding result.
type Place struct {
	Name string         `json:"name"`
	Lat  float64        `json:"lat"`
	Lng  float64        `json:"lng"`
	Raw  map[string]any `json:"raw,omitempty"`
}
