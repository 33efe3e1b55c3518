// Package geocode resolves geographic coordinates to a human-readable
// address via a Nominatim-style reverse endpoint. Lookups never fail
// outward: any transport or parse error degrades to "Unknown" after
// surfacing a user-visible warning.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/monitorpro/console/pkg/errorsx"
)

const Unknown = "Unknown"

type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Throttle  time.Duration `mapstructure:"-"`
	CacheSize int           `mapstructure:"cache_size"`
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if c.UserAgent == "" {
		c.UserAgent = "MonitorProConsole/1.0 (parent-monitor@example.com)"
	}
	if c.Throttle <= 0 {
		c.Throttle = time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1024
	}
	return c
}

// Warner receives user-visible warnings about failed lookups.
type Warner interface {
	Notify(source, message string)
}

// Resolver performs cached, self-throttled reverse lookups. The throttle
// is a fixed pre-request delay, not a coordinated rate limiter: concurrent
// callers with distinct coordinates each wait independently. A cache hit
// skips both the delay and the network call. Cache entries are keyed by
// coordinates, never by device, so a lookup resolving after a device
// switch lands in a cache that is simply never read again.
type Resolver struct {
	cfg    Config
	client *http.Client
	cache  *lruCache
	warner Warner
	logger *slog.Logger
}

func New(cfg Config, warner Warner, logger *slog.Logger) *Resolver {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  newLRUCache(cfg.CacheSize),
		warner: warner,
		logger: logger,
	}
}

// CacheKey rounds coordinates to 6 decimal places (~0.11 m), the cache
// granularity for reverse lookups.
func CacheKey(lat, lng float64) string {
	return fmt.Sprintf("%.6f,%.6f", lat, lng)
}

// Resolve returns the address for the given coordinates, or Unknown.
func (r *Resolver) Resolve(ctx context.Context, lat, lng float64) string {
	key := CacheKey(lat, lng)
	if addr, ok := r.cache.get(key); ok {
		return addr
	}

	select {
	case <-time.After(r.cfg.Throttle):
	case <-ctx.Done():
		return Unknown
	}

	addr, err := r.lookup(ctx, lat, lng)
	if err != nil {
		r.logger.Error("geocode_lookup_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.Reason(err)),
		)
		if r.warner != nil {
			r.warner.Notify("Error", "Failed to fetch address")
		}
		return Unknown
	}
	r.cache.put(key, addr)
	return addr
}

func (r *Resolver) lookup(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", fmt.Sprintf("%v", lat))
	q.Set("lon", fmt.Sprintf("%v", lng))
	q.Set("zoom", "18")
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonGeocodeLookup)
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonGeocodeLookup)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errorsx.Wrap(fmt.Errorf("reverse lookup status %d", resp.StatusCode), errorsx.ReasonGeocodeLookup)
	}

	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonGeocodeLookup)
	}
	if body.DisplayName == "" {
		return Unknown, nil
	}
	return body.DisplayName, nil
}

// CacheLen reports the number of cached addresses.
func (r *Resolver) CacheLen() int {
	return r.cache.len()
}
