package geo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const openTripsKey = "trips:open"

// Hit is a trip found near a search point.
type Hit struct {
	TripID     int64
	DistanceKm float64
}

// Index keeps the pickup points of open trips in a Redis GEO set.
// A nil *Index is valid and behaves as "not configured".
type Index struct {
	client *redis.Client
	key    string
}

func NewIndex(client *redis.Client) *Index {
	if client == nil {
		return nil
	}
	return &Index{client: client, key: openTripsKey}
}

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (i *Index) Enabled() bool {
	return i != nil && i.client != nil
}

func (i *Index) Add(ctx context.Context, tripID int64, lat, lng float64) error {
	if !i.Enabled() {
		return nil
	}
	return i.client.GeoAdd(ctx, i.key, &redis.GeoLocation{
		Name:      strconv.FormatInt(tripID, 10),
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

func (i *Index) Remove(ctx context.Context, tripID int64) error {
	if !i.Enabled() {
		return nil
	}
	return i.client.ZRem(ctx, i.key, strconv.FormatInt(tripID, 10)).Err()
}

// Nearby returns trips within radiusKm of the point, closest first.
func (i *Index) Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]Hit, error) {
	if !i.Enabled() {
		return nil, nil
	}
	locs, err := i.client.GeoSearchLocation(ctx, i.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Hit, 0, len(locs))
	for _, l := range locs {
		id, err := strconv.ParseInt(l.Name, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Hit{TripID: id, DistanceKm: l.Dist})
	}
	return out, nil
}
