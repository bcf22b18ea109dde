package user

import (
	"strings"
	"time"

	"carpool/internal/domain/pricing"
)

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
	RoleBoth      Role = "both"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePassenger, RoleDriver, RoleBoth, RoleAdmin:
		return true
	}
	return false
}

func (r Role) CanDrive() bool { return r == RoleDriver || r == RoleBoth }

func (r Role) CanRide() bool { return r == RolePassenger || r == RoleBoth || r == RoleAdmin }

func (r Role) IsAdmin() bool { return r == RoleAdmin }

type User struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"size:120;not null" json:"name"`
	Email        string    `gorm:"size:190;uniqueIndex;not null" json:"email"`
	Phone        string    `gorm:"size:32" json:"phone,omitempty"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         Role      `gorm:"size:16;not null;default:passenger" json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (User) TableName() string { return "users" }

type Vehicle struct {
	ID           int64               `gorm:"primaryKey" json:"id"`
	DriverID     int64               `gorm:"uniqueIndex;not null" json:"driverId"`
	Type         pricing.VehicleType `gorm:"size:16;not null;default:car" json:"type"`
	Brand        string              `gorm:"size:64" json:"brand"`
	Model        string              `gorm:"size:64" json:"model"`
	LicensePlate string              `gorm:"size:32" json:"licensePlate"`
	Seats        int                 `json:"seats"`
	Color        string              `gorm:"size:32" json:"color"`
	Year         int                 `json:"year"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

func (Vehicle) TableName() string { return "vehicles" }

// IsComplete reports whether the vehicle carries everything a driver needs to bid.
func (v *Vehicle) IsComplete() bool {
	if v == nil {
		return false
	}
	return strings.TrimSpace(v.Brand) != "" &&
		strings.TrimSpace(v.Model) != "" &&
		strings.TrimSpace(v.LicensePlate) != "" &&
		strings.TrimSpace(v.Color) != "" &&
		v.Seats > 0 &&
		v.Year > 0
}
