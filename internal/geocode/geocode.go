// Package geocode resolves a postal code or city/state pair to the IANA
// timezone of the appointment location.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when the provider has no match for a query.
var ErrNotFound = errors.New("location not found")

// TimeoutError wraps a provider call that exceeded its deadline. The
// resolver never retries internally; a retry inside a scheduling pass
// would block the whole lane.
type TimeoutError struct {
	Query string
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("geocode timeout for %q: %v", e.Query, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Location is a geocoded point.
type Location struct {
	Lat float64
	Lon float64
}

// Provider is the external geocoding capability.
type Provider interface {
	// Geocode returns ErrNotFound when the query has no match.
	Geocode(ctx context.Context, query, country string) (Location, error)
	// TimezoneFor returns the IANA timezone name covering the point.
	TimezoneFor(ctx context.Context, lat, lon float64) (string, error)
}

// Resolver caches successful resolutions for the process lifetime; the
// timezone of a location never changes for our purposes. Concurrent
// misses for the same key may both call the provider - the call is
// idempotent and cheap, so the race is tolerated instead of locked away.
type Resolver struct {
	provider Provider

	mu    sync.Mutex
	cache map[string]*time.Location
}

func NewResolver(provider Provider) *Resolver {
	return &Resolver{
		provider: provider,
		cache:    make(map[string]*time.Location),
	}
}

// ResolveTimezone resolves by postal code first, falling back to
// "{city}, {state}" when the postal code is unknown to the provider.
func (r *Resolver) ResolveTimezone(ctx context.Context, postalCode, city, state string) (*time.Location, error) {
	query := NormalizePostal(postalCode)
	loc, err := r.lookup(ctx, query)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	fallback := fmt.Sprintf("%s, %s", strings.TrimSpace(city), strings.TrimSpace(state))
	log.Printf("geocode: postal %q not found, retrying as %q", query, fallback)
	return r.lookup(ctx, fallback)
}

func (r *Resolver) lookup(ctx context.Context, query string) (*time.Location, error) {
	r.mu.Lock()
	cached, ok := r.cache[query]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	point, err := r.provider.Geocode(ctx, query, "US")
	if err != nil {
		return nil, classify(query, err)
	}

	tzName, err := r.provider.TimezoneFor(ctx, point.Lat, point.Lon)
	if err != nil {
		return nil, classify(query, err)
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("provider returned invalid timezone %q for %q: %w", tzName, query, err)
	}

	r.mu.Lock()
	r.cache[query] = loc
	r.mu.Unlock()
	return loc, nil
}

// classify surfaces deadline failures as TimeoutError so callers can tell
// a retryable timeout from a hard miss.
func classify(query string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return &TimeoutError{Query: query, Err: err}
	}
	return err
}

func isNetTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// NormalizePostal strips separators, zero-pads purely numeric codes to 5
// digits, and passes ZIP+4 values through verbatim.
func NormalizePostal(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, " ", "")

	if isDigits(code) && len(code) < 5 {
		return strings.Repeat("0", 5-len(code)) + code
	}
	return code
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
