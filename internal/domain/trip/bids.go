package trip

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carpool/internal/database"
	"carpool/internal/domain/notification"
	"carpool/internal/domain/user"
)

const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
)

// SubmitBid records a driver's offer on a trip that is still waiting for a driver.
func (s *Service) SubmitBid(ctx context.Context, actor Actor, tripID int64, req SubmitBidRequest) (*Bid, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.ProposedPrice <= 0 {
		return nil, fmt.Errorf("%w: proposedPrice must be positive", ErrValidation)
	}

	driver, err := s.users.FindUserByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if !driver.Role.CanDrive() {
		return nil, fmt.Errorf("%w: role %s cannot drive", ErrForbidden, driver.Role)
	}
	vehicle, err := s.users.FindVehicleByDriver(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !vehicle.IsComplete() {
		return nil, ErrVehicleRequired
	}

	t, err := s.repo.FindByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.RequestedBy == actor.UserID {
		return nil, fmt.Errorf("%w: cannot bid on your own trip", ErrForbidden)
	}
	if t.Status != StatusPendingDriver {
		return nil, fmt.Errorf("%w: trip is %s", ErrInvalidState, t.Status)
	}
	if t.MaxPrice > 0 && req.ProposedPrice > t.MaxPrice {
		return nil, fmt.Errorf("%w: %d > %d", ErrPriceExceedsMax, req.ProposedPrice, t.MaxPrice)
	}

	exists, err := s.repo.BidExists(ctx, tripID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateBid
	}

	bid := &Bid{
		TripID:        tripID,
		DriverID:      actor.UserID,
		ProposedPrice: req.ProposedPrice,
		Message:       strings.TrimSpace(req.Message),
		Status:        BidPending,
		RequestedAt:   s.now(),
	}
	err = s.repo.Transaction(ctx, func(tx *Repository) error {
		ok, err := tx.TouchPending(ctx, tripID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: trip no longer accepts driver requests", ErrInvalidState)
		}
		if err := tx.CreateBid(ctx, bid); err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicateBid
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.loggerf("level=info msg=driver request submitted trip_id=%d bid_id=%d driver_id=%d price=%d", tripID, bid.ID, actor.UserID, bid.ProposedPrice)
	s.notifyAll(ctx, []int64{t.RequestedBy}, actor.UserID, notification.KindBidReceived, tripID)
	return bid, nil
}

// ResolveBid accepts or declines a pending driver request. Accepting confirms the
// trip and declines every other pending request in the same transaction.
func (s *Service) ResolveBid(ctx context.Context, actor Actor, tripID, bidID int64, action string) (*Trip, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	if action != ActionAccept && action != ActionDecline {
		return nil, fmt.Errorf("%w: action must be accept or decline", ErrValidation)
	}

	t, err := s.repo.FindByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.RequestedBy != actor.UserID {
		return nil, ErrForbidden
	}
	if t.Status != StatusPendingDriver {
		return nil, fmt.Errorf("%w: trip is already %s", ErrConflict, t.Status)
	}
	bid, err := s.repo.FindBid(ctx, tripID, bidID)
	if err != nil {
		return nil, err
	}
	if bid.Status != BidPending {
		return nil, fmt.Errorf("%w: driver request already %s", ErrConflict, bid.Status)
	}

	if action == ActionDecline {
		return s.declineBid(ctx, actor, t, bid)
	}
	return s.acceptBid(ctx, actor, t, bid)
}

func (s *Service) declineBid(ctx context.Context, actor Actor, t *Trip, bid *Bid) (*Trip, error) {
	err := s.repo.Transaction(ctx, func(tx *Repository) error {
		ok, err := tx.TouchPending(ctx, t.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		ok, err = tx.ResolveBid(ctx, bid.ID, BidDeclined, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.loggerf("level=info msg=driver request declined trip_id=%d bid_id=%d", t.ID, bid.ID)
	s.notifyAll(ctx, []int64{bid.DriverID}, actor.UserID, notification.KindBidDeclined, t.ID)
	return s.repo.FindByID(ctx, t.ID)
}

func (s *Service) acceptBid(ctx context.Context, actor Actor, t *Trip, bid *Bid) (*Trip, error) {
	vehicleType := t.PreferredVehicleType
	if v, err := s.users.FindVehicleByDriver(ctx, bid.DriverID); err == nil && v != nil && v.Type.Valid() {
		vehicleType = v.Type
	}

	now := s.now()
	var declined []int64
	err := s.repo.Transaction(ctx, func(tx *Repository) error {
		ok, err := tx.UpdateConditional(ctx, t.ID, StatusPendingDriver, t.StatusVersion, map[string]interface{}{
			"status":            StatusConfirmed,
			"driver_id":         bid.DriverID,
			"price":             bid.ProposedPrice,
			"vehicle_type_used": vehicleType,
			"confirmed_at":      now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}

		ok, err = tx.ResolveBid(ctx, bid.ID, BidAccepted, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}

		others, err := tx.ListPendingBids(ctx, t.ID)
		if err != nil {
			return err
		}
		for _, o := range others {
			declined = append(declined, o.DriverID)
		}
		_, err = tx.DeclinePendingBids(ctx, t.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.unindex(ctx, t.ID)
	s.loggerf("level=info msg=driver request accepted trip_id=%d bid_id=%d driver_id=%d price=%d declined=%d",
		t.ID, bid.ID, bid.DriverID, bid.ProposedPrice, len(declined))
	s.notifyAll(ctx, []int64{bid.DriverID}, actor.UserID, notification.KindBidAccepted, t.ID)
	s.notifyAll(ctx, declined, actor.UserID, notification.KindBidDeclined, t.ID)
	return s.repo.FindByID(ctx, t.ID)
}
