package trip

import (
	"time"

	"carpool/internal/domain/pricing"
)

type CreateTripRequest struct {
	StartLocation        Location    `json:"startLocation"`
	EndLocation          Location    `json:"endLocation"`
	Stops                []Location  `json:"stops" validate:"max=10,dive"`
	DepartureTime        time.Time   `json:"departureTime"`
	AvailableSeats       int         `json:"availableSeats" validate:"gte=0,lte=8"`
	PreferredVehicleType string      `json:"preferredVehicleType"`
	MaxPrice             int64       `json:"maxPrice" validate:"gte=0"`
	Recurring            *Recurrence `json:"recurring"`
	Notes                string      `json:"notes" validate:"max=1000"`
}

type EstimateRequest struct {
	StartLocation Location   `json:"startLocation"`
	EndLocation   Location   `json:"endLocation"`
	VehicleType   string     `json:"vehicleType"`
	VehicleYear   int        `json:"vehicleYear" validate:"gte=0"`
	DepartureTime *time.Time `json:"departureTime"`
}

// UpdateTripRequest carries optional edits. The requester may change route and
// schedule fields while the trip waits for a driver; the assigned driver may
// change EstimatedArrivalTime and AvailableSeats once confirmed.
type UpdateTripRequest struct {
	StartLocation        *Location  `json:"startLocation"`
	EndLocation          *Location  `json:"endLocation"`
	Stops                []Location `json:"stops" validate:"omitempty,max=10,dive"`
	DepartureTime        *time.Time `json:"departureTime"`
	AvailableSeats       *int       `json:"availableSeats" validate:"omitempty,gte=1,lte=8"`
	PreferredVehicleType *string    `json:"preferredVehicleType"`
	MaxPrice             *int64     `json:"maxPrice" validate:"omitempty,gte=0"`
	Notes                *string    `json:"notes" validate:"omitempty,max=1000"`
	EstimatedArrivalTime *time.Time `json:"estimatedArrivalTime"`
}

type ListQuery struct {
	Role   string
	Status Status
	Page   int
	Limit  int
}

type SubmitBidRequest struct {
	ProposedPrice int64  `json:"proposedPrice"`
	Message       string `json:"message" validate:"max=500"`
}

type ResolveBidRequest struct {
	Action string `json:"action"`
}

type UpdateStatusRequest struct {
	Status Status `json:"status"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type CreateResult struct {
	Trip    *Trip            `json:"trip"`
	Pricing pricing.Estimate `json:"pricing"`
}

type Detail struct {
	Trip       *Trip       `json:"trip"`
	Bids       []Bid       `json:"driverRequests"`
	Passengers []Passenger `json:"passengers"`
}

type AvailableTrip struct {
	Trip
	DistanceKm float64 `json:"distanceKm"`
}
