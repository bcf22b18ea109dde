package user

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindUserByID(ctx context.Context, id int64) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindVehicleByDriver returns (nil, nil) when the driver has not registered a vehicle.
func (r *Repository) FindVehicleByDriver(ctx context.Context, driverID int64) (*Vehicle, error) {
	var v Vehicle
	res := r.db.WithContext(ctx).Where("driver_id = ?", driverID).Limit(1).Find(&v)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &v, nil
}

func (r *Repository) UpsertVehicle(ctx context.Context, v *Vehicle) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "driver_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "brand", "model", "license_plate", "seats", "color", "year", "updated_at"}),
	}).Create(v).Error
}

func (r *Repository) Create(ctx context.Context, u *User) error {
	return r.db.WithContext(ctx).Create(u).Error
}
