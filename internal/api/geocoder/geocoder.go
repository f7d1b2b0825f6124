package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marllet/fleettrack/internal/models"
)

// Client reverse-geocodes positions via Nominatim (OpenStreetMap).
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	// cache keyed by rounded coordinates, so nearby fixes reuse a result
	cache   map[string]*models.Address
	cacheMu sync.RWMutex

	// the public Nominatim instance allows at most 1 request per second
	lastRequest time.Time
	requestMu   sync.Mutex
}

// NewClient creates a reverse-geocoding client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		cache:  make(map[string]*models.Address),
	}
}

// ReverseGeocode resolves coordinates to a structured address.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error) {
	// 4 decimal places is roughly 11 meters
	cacheKey := fmt.Sprintf("%.4f,%.4f", lat, lng)

	c.cacheMu.RLock()
	if addr, ok := c.cache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		return addr, nil
	}
	c.cacheMu.RUnlock()

	address, err := c.reverseGeocode(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.cache[cacheKey] = address
	if len(c.cache) > 10000 {
		c.cache = make(map[string]*models.Address)
		c.cache[cacheKey] = address
	}
	c.cacheMu.Unlock()

	return address, nil
}

type nominatimResponse struct {
	DisplayName string           `json:"display_name"`
	Address     nominatimAddress `json:"address"`
}

type nominatimAddress struct {
	Road        string `json:"road"`
	Suburb      string `json:"suburb"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	County      string `json:"county"`
	State       string `json:"state"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Postcode    string `json:"postcode"`
}

func (c *Client) reverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error) {
	c.requestMu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < time.Second {
		time.Sleep(time.Second - elapsed)
	}
	c.lastRequest = time.Now()
	c.requestMu.Unlock()

	apiURL := fmt.Sprintf("%s/reverse?lat=%.6f&lon=%.6f&format=json", c.baseURL, lat, lng)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Nominatim usage policy requires an identifying User-Agent
	req.Header.Set("User-Agent", "FleetTrack/1.0 (delivery mission tracker)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim api returned status %d", resp.StatusCode)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// the city can land in city/town/village depending on the place
	city := result.Address.City
	if city == "" {
		city = result.Address.Town
	}
	if city == "" {
		city = result.Address.Village
	}

	address := &models.Address{
		FormattedAddress: result.DisplayName,
		Country:          result.Address.Country,
		State:            result.Address.State,
		City:             city,
		Suburb:           result.Address.Suburb,
		Road:             result.Address.Road,
		Postcode:         result.Address.Postcode,
	}

	c.logger.Debug("Reverse geocoded",
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.String("address", address.FormattedAddress))

	return address, nil
}

// CacheSize reports how many resolved addresses are cached.
func (c *Client) CacheSize() int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.cache)
}
