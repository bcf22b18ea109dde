package trip

import (
	"context"
	"errors"
	"reflect"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithDB returns a repository bound to db, typically a transaction handle.
func (r *Repository) WithDB(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Transaction runs fn with a repository bound to a single transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithDB(tx))
	})
}

type ListFilter struct {
	UserID   int64
	AsDriver bool
	Status   Status
	Limit    int
	Offset   int
}

func (r *Repository) Create(ctx context.Context, t *Trip) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*Trip, error) {
	var t Trip
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// FindByIDForUpdate loads the trip and holds its row lock until the transaction ends.
// sqlite ignores the locking clause and serializes writers instead.
func (r *Repository) FindByIDForUpdate(ctx context.Context, id int64) (*Trip, error) {
	var t Trip
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Limit(1).Find(&t).Error
	if err != nil {
		return nil, err
	}
	if t.ID == 0 {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *Repository) FindByIDs(ctx context.Context, ids []int64) ([]Trip, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []Trip
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// List returns trips where the user is the driver, or the requester or a rostered passenger.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Trip, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if f.AsDriver {
			db = db.Where("driver_id = ?", f.UserID)
		} else {
			db = db.Where("(requested_by = ? OR id IN (?))", f.UserID,
				r.db.Model(&Passenger{}).Select("trip_id").Where("user_id = ?", f.UserID))
		}
		if f.Status != "" {
			db = db.Where("status = ?", f.Status)
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&Trip{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []Trip
	err := r.db.WithContext(ctx).
		Scopes(scope).
		Order("departure_time DESC, id DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&out).Error
	return out, total, err
}

func (r *Repository) ListPending(ctx context.Context, limit int) ([]Trip, error) {
	var out []Trip
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPendingDriver).
		Order("departure_time ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateConditional applies fields only when the trip is still in status `from`
// at `version`. It bumps status_version and reports whether a row changed.
func (r *Repository) UpdateConditional(ctx context.Context, id int64, from Status, version int, fields map[string]interface{}) (bool, error) {
	fields["status_version"] = gorm.Expr("status_version + 1")
	fields["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).
		Model(&Trip{}).
		Where("id = ? AND status = ? AND status_version = ?", id, from, version).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TouchPending locks the trip row for the rest of the transaction if it still accepts bids.
func (r *Repository) TouchPending(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Trip{}).
		Where("id = ? AND status = ?", id, StatusPendingDriver).
		Update("updated_at", time.Now())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) DeleteConditional(ctx context.Context, id int64, from Status, version int) (bool, error) {
	if err := r.db.WithContext(ctx).Where("trip_id = ?", id).Delete(&Bid{}).Error; err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ? AND status_version = ?", id, from, version).
		Delete(&Trip{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) CreateBid(ctx context.Context, b *Bid) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *Repository) FindBid(ctx context.Context, tripID, bidID int64) (*Bid, error) {
	var b Bid
	err := r.db.WithContext(ctx).Where("id = ? AND trip_id = ?", bidID, tripID).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBidNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *Repository) BidExists(ctx context.Context, tripID, driverID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Bid{}).
		Where("trip_id = ? AND driver_id = ?", tripID, driverID).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) ListBids(ctx context.Context, tripID int64) ([]Bid, error) {
	var out []Bid
	err := r.db.WithContext(ctx).Where("trip_id = ?", tripID).Order("requested_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *Repository) ListPendingBids(ctx context.Context, tripID int64) ([]Bid, error) {
	var out []Bid
	err := r.db.WithContext(ctx).Where("trip_id = ? AND status = ?", tripID, BidPending).Find(&out).Error
	return out, err
}

// ResolveBid moves a pending bid to status. It reports false if the bid was already resolved.
func (r *Repository) ResolveBid(ctx context.Context, bidID int64, status BidStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Bid{}).
		Where("id = ? AND status = ?", bidID, BidPending).
		Updates(map[string]interface{}{"status": status, "responded_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) DeclinePendingBids(ctx context.Context, tripID int64, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&Bid{}).
		Where("trip_id = ? AND status = ?", tripID, BidPending).
		Updates(map[string]interface{}{"status": BidDeclined, "responded_at": at})
	return res.RowsAffected, res.Error
}

func (r *Repository) ListPassengers(ctx context.Context, tripID int64) ([]Passenger, error) {
	var out []Passenger
	err := r.db.WithContext(ctx).Where("trip_id = ?", tripID).Order("joined_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *Repository) CountAccepted(ctx context.Context, tripID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Passenger{}).
		Where("trip_id = ? AND status = ?", tripID, RosterAccepted).
		Count(&count).Error
	return count, err
}

func (r *Repository) FindPassenger(ctx context.Context, tripID, userID int64) (*Passenger, error) {
	var p Passenger
	res := r.db.WithContext(ctx).Where("trip_id = ? AND user_id = ?", tripID, userID).Limit(1).Find(&p)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *Repository) UpsertPassenger(ctx context.Context, p *Passenger) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trip_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "payment_status", "payment_id"}),
	}).Create(p).Error
}

func (r *Repository) CancelRoster(ctx context.Context, tripID int64) error {
	return r.db.WithContext(ctx).
		Model(&Passenger{}).
		Where("trip_id = ? AND status IN ?", tripID, []RosterStatus{RosterAccepted, RosterPending}).
		Update("status", RosterCancelled).Error
}

// stopsColumn encodes stops the way the serializer:json tag does, for map updates.
func stopsColumn(stops []Location) (interface{}, error) {
	if stops == nil {
		stops = []Location{}
	}
	return schema.JSONSerializer{}.Value(context.Background(), nil, reflect.Value{}, stops)
}
