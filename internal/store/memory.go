package store

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoplan/internal/model"
)

// synthSeed keeps synthetic data reproducible across runs.
const synthSeed = 42

// Memory is an in-memory store used when no DATABASE_URL is set. City points
// are generated synthetically around the city center, in place of the OSM
// extraction the Postgres store performs.
type Memory struct {
	mu         sync.Mutex
	points     map[string]cityPoints // city -> generated data
	plans      map[string]model.PlanResult
	lastCity   string
	subs       map[string]model.Subscription
	deliveries map[string]*memDelivery
	order      []string // delivery ids in enqueue order
}

type cityPoints struct {
	sites     []model.Site
	customers []model.Customer
}

// memDelivery augments WebhookDelivery with scheduling state.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
}

func NewMemory() *Memory {
	return &Memory{
		points:     map[string]cityPoints{},
		plans:      map[string]model.PlanResult{},
		subs:       map[string]model.Subscription{},
		deliveries: map[string]*memDelivery{},
	}
}

const (
	synthSites     = 20
	synthCustomers = 300
	// degrees of spread around the city center, roughly a metro area
	synthSpread = 0.10
)

// CityPoints returns seeded synthetic candidates and customers for the city.
// Generation happens once per city and is stable for the process lifetime.
func (m *Memory) CityPoints(_ context.Context, city model.City) ([]model.Site, []model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.points[city.Name]; ok {
		return p.sites, p.customers, nil
	}
	rng := rand.New(rand.NewSource(synthSeed + int64(len(city.Name))))
	center := city.Center
	if center.Lat == 0 && center.Lng == 0 {
		center = model.GeoPoint{Lat: 28.6139, Lng: 77.2090}
	}
	sites := make([]model.Site, synthSites)
	for i := range sites {
		sites[i] = model.Site{
			ID:        int64(i + 1),
			Lat:       center.Lat + (rng.Float64()-0.5)*synthSpread,
			Lng:       center.Lng + (rng.Float64()-0.5)*synthSpread,
			FixedCost: 1.0 + rng.Float64()*2.0,
		}
	}
	customers := make([]model.Customer, synthCustomers)
	for j := range customers {
		customers[j] = model.Customer{
			ID:     int64(j + 1),
			Lat:    center.Lat + (rng.Float64()-0.5)*synthSpread,
			Lng:    center.Lng + (rng.Float64()-0.5)*synthSpread,
			Demand: 1 + rng.Intn(5),
		}
	}
	m.points[city.Name] = cityPoints{sites: sites, customers: customers}
	return sites, customers, nil
}

// TravelMinutes estimates travel time with haversine distance.
func (m *Memory) TravelMinutes(_ context.Context, a, b model.GeoPoint, speedKph float64) (float64, error) {
	if speedKph <= 0 {
		speedKph = 30
	}
	return haversineMeters(a.Lat, a.Lng, b.Lat, b.Lng) / 1000.0 / speedKph * 60.0, nil
}

func (m *Memory) SavePlan(_ context.Context, plan model.PlanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.City] = plan
	m.lastCity = plan.City
	return nil
}

func (m *Memory) GetPlan(_ context.Context, city string) (model.PlanResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[city]
	if !ok {
		return model.PlanResult{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) LatestPlan(_ context.Context) (model.PlanResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastCity == "" {
		return model.PlanResult{}, ErrNotFound
	}
	return m.plans[m.lastCity], nil
}

// Reset drops all plan state; generated city points are kept.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = map[string]model.PlanResult{}
	m.lastCity = ""
	return nil
}

func (m *Memory) CreateSubscription(_ context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := model.Subscription{ID: "sub_" + uuid.NewString(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[sub.ID] = sub
	return sub, nil
}

func (m *Memory) ListSubscriptions(_ context.Context) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		s.Secret = ""
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func (m *Memory) GetSubscriptionsForEvent(_ context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(_ context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "whd_" + uuid.NewString()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{
			ID:             id,
			SubscriptionID: subscriptionID,
			EventType:      eventType,
			URL:            url,
			Secret:         secret,
			Payload:        payload,
			Status:         "pending",
		},
		NextAttemptAt: time.Now(),
	}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(_ context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []WebhookDelivery
	for _, id := range m.order {
		d, ok := m.deliveries[id]
		if !ok || d.Status != "pending" || d.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, d.WebhookDelivery)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(_ context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
	} else if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(_ context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
