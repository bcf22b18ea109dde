package payment

import (
	"context"

	"carpool/internal/domain/notification"
	"carpool/internal/domain/trip"

	"gorm.io/gorm"
)

type TripGateway interface {
	FindTrip(ctx context.Context, id int64) (*trip.Trip, error)
	SeatsLeft(ctx context.Context, tripID, userID int64) (int64, error)
	ApplyPaymentTx(ctx context.Context, db *gorm.DB, tripID, userID, paymentID int64) (*trip.Trip, error)
}

type Notifier interface {
	Notify(ctx context.Context, recipientID int64, kind notification.Kind, relatedID int64) error
}
