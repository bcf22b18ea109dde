package trip

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// FindTrip loads a trip without authorization checks, for collaborating services.
func (s *Service) FindTrip(ctx context.Context, id int64) (*Trip, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) CountAccepted(ctx context.Context, tripID int64) (int64, error) {
	return s.repo.CountAccepted(ctx, tripID)
}

// SeatsLeft reports how many seats userID could still pay for.
func (s *Service) SeatsLeft(ctx context.Context, tripID, userID int64) (int64, error) {
	t, err := s.repo.FindByID(ctx, tripID)
	if err != nil {
		return 0, err
	}
	return seatsLeft(ctx, s.repo, t, userID)
}

// seatsLeft counts free seats for userID. Until the requester is on the roster
// one seat stays reserved for them, so other passengers cannot strand the trip
// in confirmed.
func seatsLeft(ctx context.Context, repo *Repository, t *Trip, userID int64) (int64, error) {
	accepted, err := repo.CountAccepted(ctx, t.ID)
	if err != nil {
		return 0, err
	}
	free := int64(t.AvailableSeats) - accepted
	if userID == t.RequestedBy {
		return free, nil
	}
	requester, err := repo.FindPassenger(ctx, t.ID, t.RequestedBy)
	if err != nil {
		return 0, err
	}
	if requester == nil || requester.Status != RosterAccepted {
		free--
	}
	return free, nil
}

// ApplyPaymentTx records a completed payment on the roster inside the caller's
// transaction. The trip row stays locked until that transaction ends. The trip
// moves confirmed -> paid when the payer is the requester.
// It returns ErrNoSeats when no seat is left for the payer and ErrAlreadyPaid when
// the payer's seat was settled by a different payment.
func (s *Service) ApplyPaymentTx(ctx context.Context, db *gorm.DB, tripID, userID, paymentID int64) (*Trip, error) {
	tx := s.repo.WithDB(db)

	t, err := tx.FindByIDForUpdate(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusConfirmed && t.Status != StatusPaid {
		return nil, fmt.Errorf("%w: trip is %s", ErrInvalidState, t.Status)
	}

	existing, err := tx.FindPassenger(ctx, tripID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == RosterAccepted {
		if existing.PaymentStatus == PaymentCompleted && existing.PaymentID != nil && *existing.PaymentID != paymentID {
			return nil, fmt.Errorf("%w: payment %d", ErrAlreadyPaid, *existing.PaymentID)
		}
	} else {
		free, err := seatsLeft(ctx, tx, t, userID)
		if err != nil {
			return nil, err
		}
		if free <= 0 {
			return nil, ErrNoSeats
		}
	}

	entry := &Passenger{
		TripID:        tripID,
		UserID:        userID,
		Status:        RosterAccepted,
		PaymentStatus: PaymentCompleted,
		PaymentID:     &paymentID,
		JoinedAt:      s.now(),
	}
	if err := tx.UpsertPassenger(ctx, entry); err != nil {
		return nil, err
	}

	if userID == t.RequestedBy && t.Status == StatusConfirmed {
		ok, err := tx.UpdateConditional(ctx, tripID, StatusConfirmed, t.StatusVersion, map[string]interface{}{
			"status": StatusPaid,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
		t.Status = StatusPaid
		t.StatusVersion++
	}
	return t, nil
}
