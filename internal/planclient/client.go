// Package planclient is the Go client for the plan API.
package planclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"geoplan/internal/model"
)

const defaultBaseURL = "http://localhost:8080"

// Client issues single best-effort calls; no retries. Non-2xx responses fail
// with the response body as message.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New builds a client for the given base URL, falling back to the
// GEOPLAN_API_URL env var and then the local default.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("GEOPLAN_API_URL")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

// Run triggers an optimization for the city and returns the plan and stats
// from the single response.
func (c *Client) Run(ctx context.Context, city string, params model.PlanRequest) (model.PlanResponse, error) {
	var out model.PlanResponse
	body, err := json.Marshal(params)
	if err != nil {
		return out, err
	}
	u := c.BaseURL + "/plan/darkstores?city=" + url.QueryEscape(city)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.do(req, &out); err != nil {
		return model.PlanResponse{}, err
	}
	return out, nil
}

// Insights fetches the analytics block for the most recent run.
func (c *Client) Insights(ctx context.Context) (model.Insights, error) {
	var out model.Insights
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/plan/insights", nil)
	if err != nil {
		return out, err
	}
	if err := c.do(req, &out); err != nil {
		return model.Insights{}, err
	}
	return out, nil
}

// Cities lists the configured city names.
func (c *Client) Cities(ctx context.Context) ([]string, error) {
	var out struct {
		Cities []string `json:"cities"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/plan/cities", nil)
	if err != nil {
		return nil, err
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Cities, nil
}

// Reset clears server-side plan state. Best effort; callers only log the error.
func (c *Client) Reset(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/state/reset", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
