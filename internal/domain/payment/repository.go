package payment

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Transaction runs fn with a repository and raw handle bound to one transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository, db *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx}, tx)
	})
}

func (r *Repository) Create(ctx context.Context, p *Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*Payment, error) {
	var p Payment
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repository) FindByTxnRef(ctx context.Context, ref string) (*Payment, error) {
	var p Payment
	if err := r.db.WithContext(ctx).Where("txn_ref = ?", ref).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]Payment, error) {
	var out []Payment
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}

// ListOpen returns the user's pending and completed payments for a trip.
func (r *Repository) ListOpen(ctx context.Context, userID, tripID int64) ([]Payment, error) {
	var out []Payment
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND trip_id = ? AND status IN ?", userID, tripID, []Status{StatusPending, StatusCompleted}).
		Find(&out).Error
	return out, err
}

// transition moves a pending payment to status. It reports false if the payment was no longer pending.
func (r *Repository) transition(ctx context.Context, id int64, to Status, fields map[string]interface{}) (bool, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = to
	fields["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).
		Model(&Payment{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) MarkCompleted(ctx context.Context, id int64, meta gatewayMeta, at time.Time) (bool, error) {
	fields := meta.fields()
	fields["completed_at"] = at
	return r.transition(ctx, id, StatusCompleted, fields)
}

func (r *Repository) MarkFailed(ctx context.Context, id int64, meta gatewayMeta, reason string) (bool, error) {
	fields := meta.fields()
	fields["failure_reason"] = reason
	return r.transition(ctx, id, StatusFailed, fields)
}

func (r *Repository) MarkCancelled(ctx context.Context, id int64) (bool, error) {
	return r.transition(ctx, id, StatusCancelled, map[string]interface{}{"failure_reason": "cancelled by user"})
}

// ExpireStale cancels pending payments whose checkout window closed before cutoff.
func (r *Repository) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&Payment{}).
		Where("status = ? AND expires_at < ?", StatusPending, cutoff).
		Updates(map[string]interface{}{
			"status":         StatusCancelled,
			"failure_reason": reasonExpired,
			"updated_at":     time.Now(),
		})
	return res.RowsAffected, res.Error
}
