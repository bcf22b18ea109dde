package trip

import (
	"time"

	"carpool/internal/domain/pricing"
	"carpool/internal/domain/user"
)

type Status string

const (
	StatusPendingDriver Status = "pending_driver"
	StatusConfirmed     Status = "confirmed"
	StatusPaid          Status = "paid"
	StatusInProgress    Status = "in_progress"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

// AllowedTransitions represents the trip state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPendingDriver: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:     {StatusPaid, StatusCancelled},
	StatusPaid:          {StatusInProgress, StatusCancelled},
	StatusInProgress:    {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPendingDriver, StatusConfirmed, StatusPaid, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Location struct {
	Address string  `json:"address" validate:"max=255"`
	Lng     float64 `json:"lng" validate:"gte=-180,lte=180"`
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
}

func (l Location) Point() pricing.Point {
	return pricing.Point{Lat: l.Lat, Lng: l.Lng}
}

// IsZero reports a location that was not supplied.
func (l Location) IsZero() bool {
	return l.Lat == 0 && l.Lng == 0
}

func (l Location) SamePoint(o Location) bool {
	return l.Lat == o.Lat && l.Lng == o.Lng
}

type RecurrencePattern string

const (
	RecurDaily    RecurrencePattern = "daily"
	RecurWeekdays RecurrencePattern = "weekdays"
	RecurWeekly   RecurrencePattern = "weekly"
)

// Recurrence is descriptive only. No trips are generated from it.
type Recurrence struct {
	Pattern RecurrencePattern `json:"pattern" validate:"oneof=daily weekdays weekly"`
	Days    []int             `json:"days,omitempty" validate:"dive,gte=0,lte=6"`
	Until   *time.Time        `json:"until,omitempty"`
}

type Trip struct {
	ID                   int64               `gorm:"primaryKey" json:"id"`
	RequestedBy          int64               `gorm:"not null;index" json:"requestedBy"`
	DriverID             *int64              `gorm:"index" json:"driverId,omitempty"`
	StartLocation        Location            `gorm:"embedded;embeddedPrefix:start_" json:"startLocation"`
	EndLocation          Location            `gorm:"embedded;embeddedPrefix:end_" json:"endLocation"`
	Stops                []Location          `gorm:"type:text;serializer:json" json:"stops"`
	DepartureTime        time.Time           `gorm:"not null;index" json:"departureTime"`
	EstimatedArrivalTime *time.Time          `json:"estimatedArrivalTime,omitempty"`
	ActualDepartureTime  *time.Time          `json:"actualDepartureTime,omitempty"`
	ActualArrivalTime    *time.Time          `json:"actualArrivalTime,omitempty"`
	AvailableSeats       int                 `gorm:"not null" json:"availableSeats"`
	PreferredVehicleType pricing.VehicleType `gorm:"size:16" json:"preferredVehicleType"`
	VehicleTypeUsed      pricing.VehicleType `gorm:"size:16" json:"vehicleTypeUsed,omitempty"`
	EstimatedPrice       int64               `json:"estimatedPrice"`
	Price                int64               `json:"price"`
	MaxPrice             int64               `json:"maxPrice"`
	Currency             string              `gorm:"size:3;not null" json:"currency"`
	Status               Status              `gorm:"size:20;not null;index" json:"status"`
	StatusVersion        int                 `gorm:"not null" json:"statusVersion"`
	CancellationReason   string              `json:"cancellationReason,omitempty"`
	CancelledBy          *int64              `json:"cancelledBy,omitempty"`
	Recurring            *Recurrence         `gorm:"type:text;serializer:json" json:"recurring,omitempty"`
	Notes                string              `json:"notes,omitempty"`
	ConfirmedAt          *time.Time          `json:"confirmedAt,omitempty"`
	CancelledAt          *time.Time          `json:"cancelledAt,omitempty"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

func (Trip) TableName() string { return "trips" }

func (t *Trip) IsDriver(userID int64) bool {
	return t.DriverID != nil && *t.DriverID == userID
}

type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidDeclined BidStatus = "declined"
)

// Bid is a driver's offer to take a trip at a price.
type Bid struct {
	ID            int64      `gorm:"primaryKey" json:"id"`
	TripID        int64      `gorm:"not null;uniqueIndex:idx_trip_bids_trip_driver" json:"tripId"`
	DriverID      int64      `gorm:"not null;uniqueIndex:idx_trip_bids_trip_driver" json:"driverId"`
	ProposedPrice int64      `gorm:"not null" json:"proposedPrice"`
	Message       string     `json:"message,omitempty"`
	Status        BidStatus  `gorm:"size:16;not null;index" json:"status"`
	RequestedAt   time.Time  `gorm:"not null" json:"requestedAt"`
	RespondedAt   *time.Time `json:"respondedAt,omitempty"`
}

func (Bid) TableName() string { return "trip_bids" }

type RosterStatus string

const (
	RosterPending   RosterStatus = "pending"
	RosterAccepted  RosterStatus = "accepted"
	RosterDeclined  RosterStatus = "declined"
	RosterCancelled RosterStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Passenger is a roster entry: a user riding on a trip.
type Passenger struct {
	ID            int64         `gorm:"primaryKey" json:"id"`
	TripID        int64         `gorm:"not null;uniqueIndex:idx_trip_passengers_trip_user" json:"tripId"`
	UserID        int64         `gorm:"not null;uniqueIndex:idx_trip_passengers_trip_user" json:"userId"`
	Status        RosterStatus  `gorm:"size:16;not null" json:"status"`
	PaymentStatus PaymentStatus `gorm:"size:16;not null" json:"paymentStatus"`
	PaymentID     *int64        `json:"paymentId,omitempty"`
	JoinedAt      time.Time     `json:"joinedAt"`
}

func (Passenger) TableName() string { return "trip_passengers" }

// Actor is the authenticated caller of a trip operation.
type Actor struct {
	UserID int64
	Role   user.Role
}
