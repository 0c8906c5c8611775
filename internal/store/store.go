package store

import (
	"context"
	"errors"
	"time"

	"geoplan/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Planning data
	CityPoints(ctx context.Context, city model.City) (sites []model.Site, customers []model.Customer, err error)
	TravelMinutes(ctx context.Context, a, b model.GeoPoint, speedKph float64) (float64, error)

	// Plan state
	SavePlan(ctx context.Context, plan model.PlanResult) error
	GetPlan(ctx context.Context, city string) (model.PlanResult, error)
	LatestPlan(ctx context.Context) (model.PlanResult, error)
	Reset(ctx context.Context) error

	// Webhook subscriptions & deliveries
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

// WebhookDelivery is one queued delivery attempt record.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}

var ErrNotFound = errors.New("not found")
