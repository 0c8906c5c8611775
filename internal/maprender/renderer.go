// Package maprender computes the map layer model applied by the Leaflet page.
//
// The renderer owns a registry of layers tagged by role. Each update replaces
// only the registry entries for its own role, so a data refresh never touches
// the focus marker and a focus change never touches the plan layers.
package maprender

import (
	"fmt"
	"sync"

	"geoplan/internal/model"
)

// Role tags a registry entry.
type Role string

const (
	RoleMarkers Role = "markers"
	RoleHeat    Role = "heat"
	RoleFocus   Role = "focus"
)

// heatScale divides fixed cost into a heat weight, clamped to 1.0.
const heatScale = 2.0

type Marker struct {
	ID        int64   `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Open      bool    `json:"open"`
	FixedCost float64 `json:"fixed_cost"`
	Color     string  `json:"color"`
	Popup     string  `json:"popup"`
}

type HeatPoint struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Weight float64 `json:"weight"`
}

type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Focus is the single search-selection marker with its fly-to target.
type Focus struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// RenderModel is the full layer state handed to the map page. A nil Bounds
// means the viewport is left unchanged.
type RenderModel struct {
	Center  model.GeoPoint `json:"center"`
	Zoom    int            `json:"zoom"`
	Markers []Marker       `json:"markers"`
	Heat    []HeatPoint    `json:"heat"`
	Bounds  *Bounds        `json:"bounds,omitempty"`
	Focus   *Focus         `json:"focus,omitempty"`
}

// Renderer holds the owned-layer registry for one map instance.
type Renderer struct {
	mu      sync.Mutex
	center  model.GeoPoint
	zoom    int
	markers []Marker
	heat    []HeatPoint
	bounds  *Bounds
	focus   *Focus
}

func New(center model.GeoPoint, zoom int) *Renderer {
	if zoom <= 0 {
		zoom = 11
	}
	return &Renderer{center: center, zoom: zoom}
}

// SetData replaces the marker and heat layers from a plan FeatureCollection.
// One marker per point feature, colored by its open flag; heat points from
// open features only, weighted by min(fixed_cost/heatScale, 1.0). Bounds are
// recomputed and cleared when the collection is empty. Malformed features
// (missing id/open/fixed_cost properties) fail the whole refresh.
func (r *Renderer) SetData(fc model.FeatureCollection) error {
	markers := make([]Marker, 0, len(fc.Features))
	heat := make([]HeatPoint, 0, len(fc.Features))
	var b *Bounds

	for i, f := range fc.Features {
		if f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
			return fmt.Errorf("feature %d: not a point", i)
		}
		lng, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
		id, err := featureID(f.Properties)
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		open, ok := f.Properties["open"].(bool)
		if !ok {
			return fmt.Errorf("feature %d: missing open flag", i)
		}
		cost, err := featureNumber(f.Properties, "fixed_cost")
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}

		color, status := "red", "CLOSED"
		if open {
			color, status = "green", "OPEN"
		}
		markers = append(markers, Marker{
			ID:        id,
			Lat:       lat,
			Lng:       lng,
			Open:      open,
			FixedCost: cost,
			Color:     color,
			Popup:     fmt.Sprintf("Store %d<br>Status: %s<br>Fixed cost: %.2f", id, status, cost),
		})
		if open {
			w := cost / heatScale
			if w > 1.0 {
				w = 1.0
			}
			heat = append(heat, HeatPoint{Lat: lat, Lng: lng, Weight: w})
		}
		if b == nil {
			b = &Bounds{MinLat: lat, MaxLat: lat, MinLng: lng, MaxLng: lng}
		} else {
			if lat < b.MinLat {
				b.MinLat = lat
			}
			if lat > b.MaxLat {
				b.MaxLat = lat
			}
			if lng < b.MinLng {
				b.MinLng = lng
			}
			if lng > b.MaxLng {
				b.MaxLng = lng
			}
		}
	}

	r.mu.Lock()
	r.markers = markers
	r.heat = heat
	r.bounds = b
	r.mu.Unlock()
	return nil
}

// SetFocus replaces the focus marker; at most one exists at a time.
func (r *Renderer) SetFocus(p model.Place) {
	r.mu.Lock()
	r.focus = &Focus{Name: p.Name, Lat: p.Lat, Lng: p.Lng}
	r.mu.Unlock()
}

// ClearFocus removes the focus marker.
func (r *Renderer) ClearFocus() {
	r.mu.Lock()
	r.focus = nil
	r.mu.Unlock()
}

// Model snapshots the current layer state.
func (r *Renderer) Model() RenderModel {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := RenderModel{
		Center:  r.center,
		Zoom:    r.zoom,
		Markers: append([]Marker(nil), r.markers...),
		Heat:    append([]HeatPoint(nil), r.heat...),
	}
	if r.bounds != nil {
		b := *r.bounds
		m.Bounds = &b
	}
	if r.focus != nil {
		f := *r.focus
		m.Focus = &f
	}
	return m
}

func featureID(props map[string]any) (int64, error) {
	v, err := featureNumber(props, "id")
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func featureNumber(props map[string]any, key string) (float64, error) {
	switch v := props[key].(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("missing %s property", key)
	}
}
