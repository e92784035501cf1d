// Package geocode resolves photo coordinates into human readable places.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"

	"github.com/kozaktomas/photo-curator/internal/exif"
	"github.com/kozaktomas/photo-curator/internal/retry"
)

// RequestsPerSecond is the Geocoding API quota the client stays under.
const RequestsPerSecond = 50

var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrNoResults          = errors.New("no geocoding results")
)

// Location is a reverse geocoded place.
type Location struct {
	Address      string
	City         string
	State        string
	Country      string
	PostalCode   string
	Neighborhood string
	Sublocality  string
}

// Component candidate lists, in priority order. The first address component
// carrying any listed type (earlier types first) wins.
var (
	cityTypes         = []string{"locality", "postal_town", "sublocality_level_1", "sublocality"}
	sublocalityTypes  = []string{"sublocality", "sublocality_level_1", "sublocality_level_2"}
	neighborhoodTypes = []string{"neighborhood", "sublocality_level_3", "sublocality_level_4", "sublocality_level_5", "administrative_area_level_2"}
	stateTypes        = []string{"administrative_area_level_1", "administrative_area_level_2", "sublocality"}
)

type Client struct {
	maps    *maps.Client
	limiter *rate.Limiter
	retry   *retry.Executor
}

// NewClient creates a reverse geocoding client. Extra options such as
// maps.WithBaseURL are passed to the Maps client.
func NewClient(apiKey string, executor *retry.Executor, opts ...maps.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("geocoding API key is required")
	}
	if executor == nil {
		executor = retry.New(retry.DefaultPolicy())
	}

	c, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}

	return &Client{
		maps:    c,
		limiter: rate.NewLimiter(rate.Limit(RequestsPerSecond), RequestsPerSecond),
		retry:   executor,
	}, nil
}

// ReverseGeocode returns the place at lat/lng.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (*Location, error) {
	if !exif.ValidCoordinate(lat, lng) {
		return nil, fmt.Errorf("%w: %f,%f", ErrInvalidCoordinates, lat, lng)
	}

	results, err := retry.Do(ctx, c.retry, "reverse geocode", func(ctx context.Context) ([]maps.GeocodingResult, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		results, err := c.maps.ReverseGeocode(ctx, &maps.GeocodingRequest{
			LatLng: &maps.LatLng{Lat: lat, Lng: lng},
		})
		if err != nil {
			return nil, classifyError(err)
		}
		return results, nil
	})
	if err != nil {
		return nil, fmt.Errorf("reverse geocoding %f,%f: %w", lat, lng, err)
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	result := results[0]
	loc := resolve(result.AddressComponents, strings.Contains(result.FormattedAddress, "USA"))
	loc.Address = result.FormattedAddress
	return loc, nil
}

// classifyError maps Maps API status strings onto retry causes.
func classifyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "OVER_QUERY_LIMIT"):
		return retry.RateLimited(err, 0)
	case strings.Contains(msg, "REQUEST_DENIED"), strings.Contains(msg, "OVER_DAILY_LIMIT"):
		return fmt.Errorf("%w: %w", retry.ErrUnauthorized, err)
	case strings.Contains(msg, "INVALID_REQUEST"):
		return retry.Permanent(err)
	}
	return err
}

func resolve(components []maps.AddressComponent, usa bool) *Location {
	loc := &Location{
		City:         pick(components, cityTypes, false),
		Sublocality:  pick(components, sublocalityTypes, false),
		Neighborhood: pick(components, neighborhoodTypes, false),
		State:        pick(components, stateTypes, usa),
		Country:      pick(components, []string{"country"}, false),
		PostalCode:   pick(components, []string{"postal_code"}, false),
	}
	return loc
}

// pick walks the candidate types in order and returns the first component
// having that type. Short names are used for first-level admin areas when
// shortAdmin is set (US state codes).
func pick(components []maps.AddressComponent, candidates []string, shortAdmin bool) string {
	for _, typ := range candidates {
		for _, c := range components {
			if !slices.Contains(c.Types, typ) {
				continue
			}
			if shortAdmin && typ == "administrative_area_level_1" && c.ShortName != "" {
				return c.ShortName
			}
			return c.LongName
		}
	}
	return ""
}
