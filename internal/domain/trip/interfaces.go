package trip

import (
	"context"

	"carpool/internal/domain/notification"
	"carpool/internal/domain/user"
	"carpool/internal/geo"
)

type Notifier interface {
	Notify(ctx context.Context, recipientID int64, kind notification.Kind, relatedID int64) error
}

type UserDirectory interface {
	FindUserByID(ctx context.Context, id int64) (*user.User, error)
	FindVehicleByDriver(ctx context.Context, driverID int64) (*user.Vehicle, error)
}

type GeoIndex interface {
	Enabled() bool
	Add(ctx context.Context, tripID int64, lat, lng float64) error
	Remove(ctx context.Context, tripID int64) error
	Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]geo.Hit, error)
}
