package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"geoplan/internal/model"
)

// Postgres backs the store with a PostGIS-enabled database holding
// osm2pgsql-imported OSM data plus the service's own tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies *.sql files in lexical order. Dev helper; production
// migrations run out of band.
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(data)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

const (
	extractStoreLimit    = 200
	extractCustomerLimit = 800
)

// CityPoints extracts darkstore candidates (retail POIs) and demand points
// (residential place nodes) from the osm2pgsql point table. Fixed costs and
// demand are seeded attributes, stable per city.
func (p *Postgres) CityPoints(ctx context.Context, city model.City) ([]model.Site, []model.Customer, error) {
	rng := rand.New(rand.NewSource(synthSeed + int64(len(city.Name))))

	storeRows, err := p.db.QueryContext(ctx, `
		SELECT osm_id, ST_X(ST_Centroid(way)) AS lon, ST_Y(ST_Centroid(way)) AS lat
		FROM planet_osm_point
		WHERE "amenity" IN ('supermarket', 'convenience', 'marketplace')
		   OR "shop" IN ('supermarket', 'department_store', 'grocery')
		LIMIT $1`, extractStoreLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("extract stores: %w", err)
	}
	defer storeRows.Close()
	var sites []model.Site
	for storeRows.Next() {
		var s model.Site
		if err := storeRows.Scan(&s.ID, &s.Lng, &s.Lat); err != nil {
			return nil, nil, err
		}
		s.FixedCost = 1.0 + rng.Float64()*2.0
		sites = append(sites, s)
	}
	if err := storeRows.Err(); err != nil {
		return nil, nil, err
	}

	custRows, err := p.db.QueryContext(ctx, `
		SELECT osm_id, ST_X(ST_Centroid(way)) AS lon, ST_Y(ST_Centroid(way)) AS lat
		FROM planet_osm_point
		WHERE "place" IN ('suburb', 'neighbourhood', 'residential')
		LIMIT $1`, extractCustomerLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("extract customers: %w", err)
	}
	defer custRows.Close()
	var customers []model.Customer
	for custRows.Next() {
		var c model.Customer
		if err := custRows.Scan(&c.ID, &c.Lng, &c.Lat); err != nil {
			return nil, nil, err
		}
		c.Demand = 1 + rng.Intn(5)
		customers = append(customers, c)
	}
	if err := custRows.Err(); err != nil {
		return nil, nil, err
	}

	if len(sites) == 0 || len(customers) == 0 {
		return nil, nil, fmt.Errorf("no OSM data for %s; was the osm2pgsql import run?", city.Name)
	}
	return sites, customers, nil
}

// TravelMinutes computes spherical distance in the database and converts it
// to minutes at the given speed.
func (p *Postgres) TravelMinutes(ctx context.Context, a, b model.GeoPoint, speedKph float64) (float64, error) {
	if speedKph <= 0 {
		speedKph = 30
	}
	var distKm sql.NullFloat64
	err := p.db.QueryRowContext(ctx, `
		SELECT ST_DistanceSphere(
			ST_SetSRID(ST_MakePoint($1, $2), 4326),
			ST_SetSRID(ST_MakePoint($3, $4), 4326)
		) / 1000`, a.Lng, a.Lat, b.Lng, b.Lat).Scan(&distKm)
	if err != nil {
		return 0, err
	}
	return distKm.Float64 / speedKph * 60.0, nil
}

func (p *Postgres) SavePlan(ctx context.Context, plan model.PlanResult) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO plans (city, payload, created_at) VALUES ($1, $2, now())
		ON CONFLICT (city) DO UPDATE SET payload = EXCLUDED.payload, created_at = now()`,
		plan.City, payload)
	return err
}

func (p *Postgres) GetPlan(ctx context.Context, city string) (model.PlanResult, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM plans WHERE city = $1`, city).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanResult{}, ErrNotFound
	}
	if err != nil {
		return model.PlanResult{}, err
	}
	var plan model.PlanResult
	if err := json.Unmarshal(payload, &plan); err != nil {
		return model.PlanResult{}, err
	}
	return plan, nil
}

func (p *Postgres) LatestPlan(ctx context.Context) (model.PlanResult, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM plans ORDER BY created_at DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanResult{}, ErrNotFound
	}
	if err != nil {
		return model.PlanResult{}, err
	}
	var plan model.PlanResult
	if err := json.Unmarshal(payload, &plan); err != nil {
		return model.PlanResult{}, err
	}
	return plan, nil
}

func (p *Postgres) Reset(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM plans`)
	return err
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{ID: "sub_" + uuid.NewString(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	events, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, url, events, secret) VALUES ($1, $2, $3, $4)`,
		sub.ID, sub.URL, events, sub.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, events FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Subscription
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(events, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	subs, err := p.listSubscriptionsWithSecrets(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Subscription
	for _, s := range subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (p *Postgres) listSubscriptionsWithSecrets(ctx context.Context) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, events, secret FROM subscriptions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Subscription
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(events, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := "whd_" + uuid.NewString()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, now())`,
		id, nullIfEmpty(subscriptionID), eventType, url, secret, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, COALESCE(subscription_id, ''), event_type, url, secret, payload, status, attempts
		FROM webhook_deliveries
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `
			UPDATE webhook_deliveries
			SET status = 'delivered', attempts = attempts + 1, last_error = $2, response_code = $3, latency_ms = $4, delivered_at = now()
			WHERE id = $1`, id, lastError, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET attempts = attempts + 1, last_error = $2, response_code = $3, latency_ms = $4, next_attempt_at = $5
		WHERE id = $1`, id, lastError, responseCode, latencyMs, nextAttemptAt)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'failed', attempts = attempts + 1, last_error = $2, response_code = $3, latency_ms = $4
		WHERE id = $1`, id, lastError, responseCode, latencyMs)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
