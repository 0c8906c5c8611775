// Package geocode wraps the Nominatim search endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"geoplan/internal/model"
)

const (
	defaultBaseURL = "https://nominatim.openstreetmap.org/search"
	userAgent      = "geoplan/1.0 (darkstore planning)"

	// Queries shorter than this never hit the network.
	minQueryLen = 3

	maxRetries   = 2
	retryBackoff = 800 * time.Millisecond
	resultLimit  = 5

	cacheTTL = 1 * time.Hour
)

// transientErrs are network-level failure substrings worth retrying.
var transientErrs = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"no such host",
	"unexpected EOF",
}

// Client searches Nominatim with retry, rate limiting, and a small TTL cache.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	limiter *rate.Limiter
	sleep   func(time.Duration)

	mu        sync.RWMutex
	cache     map[string][]model.Place
	cacheTime map[string]time.Time
}

func NewClient() *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		// Nominatim usage policy: at most one request per second
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		sleep:     time.Sleep,
		cache:     map[string][]model.Place{},
		cacheTime: map[string]time.Time{},
	}
}

type nominatimResult struct {
	DisplayName string         `json:"display_name"`
	Lat         string         `json:"lat"`
	Lon         string         `json:"lon"`
	Address     map[string]any `json:"address"`
}

// Search returns up to five normalized places for the query. Inputs under
// three characters return an empty list without a network call. Transient
// network failures are retried twice with linear backoff; any other failure
// is returned to the caller as-is.
func (c *Client) Search(ctx context.Context, query string) ([]model.Place, error) {
	query = strings.TrimSpace(query)
	if len(query) < minQueryLen {
		return []model.Place{}, nil
	}

	c.mu.RLock()
	if hit, ok := c.cache[query]; ok && time.Since(c.cacheTime[query]) < cacheTTL {
		c.mu.RUnlock()
		return hit, nil
	}
	c.mu.RUnlock()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(retryBackoff * time.Duration(attempt))
		}
		places, err := c.fetch(ctx, query)
		if err == nil {
			c.mu.Lock()
			c.cache[query] = places
			c.cacheTime[query] = time.Now()
			c.mu.Unlock()
			return places, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("geocode search %q: %w", query, lastErr)
}

func (c *Client) fetch(ctx context.Context, query string) ([]model.Place, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	apiURL := fmt.Sprintf("%s?format=json&q=%s&addressdetails=1&limit=%d",
		c.BaseURL, url.QueryEscape(query), resultLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, err
	}
	places := make([]model.Place, 0, len(results))
	for _, r := range results {
		lat, err := strconv.ParseFloat(r.Lat, 64)
		if err != nil {
			continue
		}
		lng, err := strconv.ParseFloat(r.Lon, 64)
		if err != nil {
			continue
		}
		places = append(places, model.Place{
			Name: r.DisplayName,
			Lat:  lat,
			Lng:  lng,
			Raw:  r.Address,
		})
	}
	return places, nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range transientErrs {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
