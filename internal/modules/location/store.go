// README: Live driver position index backed by Redis GEO.
package location

import (
	"context"

	"github.com/redis/go-redis/v9"

	"tram/internal/types"
)

const driverGeoKey = "location:drivers"

// GeoStore mirrors driver positions into a Redis GEO set for fast radius
// queries. It is a cache beside the registry, never the source of truth.
type GeoStore struct {
	redis *redis.Client
}

func NewGeoStore(redis *redis.Client) *GeoStore {
	return &GeoStore{redis: redis}
}

func (s *GeoStore) Upsert(ctx context.Context, id types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *GeoStore) Remove(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, driverGeoKey, string(id)).Err()
}

func (s *GeoStore) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]NearbyDriver, error) {
	results, err := s.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]NearbyDriver, len(results))
	for i, r := range results {
		out[i] = NearbyDriver{
			DriverID:   types.ID(r.Name),
			Position:   types.Point{Lat: r.Latitude, Lng: r.Longitude},
			DistanceKm: r.Dist,
		}
	}
	return out, nil
}
