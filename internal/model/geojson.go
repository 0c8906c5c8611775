package model

// GeoJSON types for the plan output. Coordinate order is [lon, lat].

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// ToGeoJSON converts planned stores to a point FeatureCollection carrying
// the id/open/fixed_cost properties the map renderer keys on.
func ToGeoJSON(stores []PlannedStore) FeatureCollection {
	feats := make([]Feature, 0, len(stores))
	for _, s := range stores {
		feats = append(feats, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "Point", Coordinates: []float64{s.Lng, s.Lat}},
			Properties: map[string]any{
				"id":         s.ID,
				"lat":        s.Lat,
				"lon":        s.Lng,
				"open":       s.Open,
				"fixed_cost": s.FixedCost,
			},
		})
	}
	return FeatureCollection{Type: "FeatureCollection", Features: feats}
}
