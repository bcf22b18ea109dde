package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carpool/internal/domain/pricing"
)

type Profile struct {
	User    *User    `json:"user"`
	Vehicle *Vehicle `json:"vehicle,omitempty"`
}

type VehicleRequest struct {
	Type         string `json:"type" binding:"required"`
	Brand        string `json:"brand" binding:"required"`
	Model        string `json:"model" binding:"required"`
	LicensePlate string `json:"licensePlate" binding:"required"`
	Seats        int    `json:"seats" binding:"required,min=1,max=50"`
	Color        string `json:"color" binding:"required"`
	Year         int    `json:"year" binding:"required,min=1950"`
}

type Service struct {
	repo *Repository
	now  func() time.Time
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) Me(ctx context.Context, userID int64) (*Profile, error) {
	u, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &Profile{User: u}
	if u.Role.CanDrive() {
		v, err := s.repo.FindVehicleByDriver(ctx, userID)
		if err != nil {
			return nil, err
		}
		p.Vehicle = v
	}
	return p, nil
}

func (s *Service) RegisterVehicle(ctx context.Context, userID int64, req VehicleRequest) (*Vehicle, error) {
	u, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.Role.CanDrive() {
		return nil, ErrForbidden
	}

	vt := pricing.VehicleType(strings.ToLower(strings.TrimSpace(req.Type)))
	if !vt.Valid() {
		return nil, fmt.Errorf("%w: unknown vehicle type %q", ErrValidation, req.Type)
	}
	if req.Year > s.now().Year()+1 {
		return nil, fmt.Errorf("%w: year in the future", ErrValidation)
	}

	v := &Vehicle{
		DriverID:     userID,
		Type:         vt,
		Brand:        strings.TrimSpace(req.Brand),
		Model:        strings.TrimSpace(req.Model),
		LicensePlate: strings.ToUpper(strings.TrimSpace(req.LicensePlate)),
		Seats:        req.Seats,
		Color:        strings.TrimSpace(req.Color),
		Year:         req.Year,
	}
	if err := s.repo.UpsertVehicle(ctx, v); err != nil {
		return nil, err
	}
	return s.repo.FindVehicleByDriver(ctx, userID)
}
