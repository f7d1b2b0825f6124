package osrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable the routing oracle could not produce an answer. The
// caller is expected to fall back to a geometric estimate.
var ErrUnavailable = errors.New("routing service unavailable")

// Route road-network distance and duration between two points
type Route struct {
	DistanceMeters  float64
	DurationSeconds float64
}

// Client OSRM route API client. Stateless; one attempt per call, no
// retries.
type Client struct {
	baseURL    string
	profile    string
	httpClient *http.Client
	logger     *zap.Logger
}

// routeResponse OSRM /route response (only the fields we read)
type routeResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"` // meters
		Duration float64 `json:"duration"` // seconds
	} `json:"routes"`
}

// NewClient creates a route client. baseURL is the OSRM host, e.g.
// https://router.project-osrm.org. profile is the routing profile
// (driving, cycling, ...).
func NewClient(baseURL, profile string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		profile: profile,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Route queries the oracle for the road route from origin to destination.
// Any failure (timeout, transport error, bad status, malformed payload,
// no route found) is reported as ErrUnavailable.
func (c *Client) Route(ctx context.Context, originLat, originLng, destLat, destLng float64) (*Route, error) {
	// OSRM wants lon,lat pairs
	url := fmt.Sprintf("%s/route/v1/%s/%f,%f;%f,%f?overview=false",
		c.baseURL, c.profile, originLng, originLat, destLng, destLat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Routing request failed", zap.Error(err))
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Routing service returned bad status", zap.Int("status", resp.StatusCode))
		return nil, ErrUnavailable
	}

	var result routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.Warn("Failed to decode routing response", zap.Error(err))
		return nil, ErrUnavailable
	}

	if result.Code != "Ok" || len(result.Routes) == 0 {
		c.logger.Warn("Routing service found no route", zap.String("code", result.Code))
		return nil, ErrUnavailable
	}

	r := result.Routes[0]
	return &Route{
		DistanceMeters:  r.Distance,
		DurationSeconds: r.Duration,
	}, nil
}
