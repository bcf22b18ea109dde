package main

import (
	"fmt"
	"log"

	"carpool/internal/config"
	"carpool/internal/database"
	"carpool/internal/domain/notification"
	"carpool/internal/domain/payment"
	"carpool/internal/domain/pricing"
	"carpool/internal/domain/trip"
	"carpool/internal/domain/user"
	jwtsvc "carpool/internal/pkg/jwt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/clause"
)

type seedUser struct {
	name     string
	email    string
	phone    string
	password string
	role     user.Role
	vehicle  *user.Vehicle
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("DB connection failed:", err)
	}

	log.Println("Running AutoMigrate...")
	if err := database.Migrate(db,
		&user.User{},
		&user.Vehicle{},
		&trip.Trip{},
		&trip.Bid{},
		&trip.Passenger{},
		&payment.Payment{},
		&notification.Notification{},
	); err != nil {
		log.Fatal("AutoMigrate failed:", err)
	}

	// children first
	log.Println("Cleaning old data...")
	for _, table := range []string{"notifications", "payments", "trip_passengers", "trip_bids", "trips", "vehicles", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			log.Fatalf("cleanup %s failed: %v", table, err)
		}
	}

	users := []seedUser{
		{name: "Admin", email: "admin@carpool.local", password: "admin123", role: user.RoleAdmin},
		{name: "Nguyen Van An", email: "an@carpool.local", phone: "+84 901 000 001", password: "rider123", role: user.RolePassenger},
		{name: "Tran Thi Binh", email: "binh@carpool.local", phone: "+84 901 000 002", password: "rider123", role: user.RolePassenger},
		{
			name: "Le Van Cuong", email: "cuong@carpool.local", phone: "+84 902 000 001", password: "driver123", role: user.RoleDriver,
			vehicle: &user.Vehicle{Type: pricing.VehicleCar, Brand: "Toyota", Model: "Vios", LicensePlate: "51A-123.45", Seats: 4, Color: "white", Year: 2022},
		},
		{
			name: "Pham Thi Dung", email: "dung@carpool.local", phone: "+84 902 000 002", password: "driver123", role: user.RoleDriver,
			vehicle: &user.Vehicle{Type: pricing.VehicleMotorcycle, Brand: "Honda", Model: "Wave", LicensePlate: "59X1-678.90", Seats: 1, Color: "black", Year: 2019},
		},
		{
			name: "Hoang Van Em", email: "em@carpool.local", phone: "+84 903 000 001", password: "both123", role: user.RoleBoth,
			vehicle: &user.Vehicle{Type: pricing.VehicleSUV, Brand: "Ford", Model: "Everest", LicensePlate: "51H-246.80", Seats: 6, Color: "grey", Year: 2017},
		},
	}

	j := jwtsvc.New(cfg.JWTSecret, cfg.JWTTTL)

	log.Println("Creating users...")
	for _, su := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(su.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal("bcrypt failed:", err)
		}
		u := user.User{
			Name:         su.name,
			Email:        su.email,
			Phone:        su.phone,
			PasswordHash: string(hash),
			Role:         su.role,
		}
		if err := db.Create(&u).Error; err != nil {
			log.Fatalf("create user %s failed: %v", su.email, err)
		}

		if su.vehicle != nil {
			v := *su.vehicle
			v.DriverID = u.ID
			if err := db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "driver_id"}},
				UpdateAll: true,
			}).Create(&v).Error; err != nil {
				log.Fatalf("create vehicle for %s failed: %v", su.email, err)
			}
		}

		token, err := j.GenerateToken(u.ID, string(u.Role))
		if err != nil {
			log.Fatal("token generation failed:", err)
		}
		fmt.Printf("%-10s %-22s id=%d password=%s\n  token=%s\n", u.Role, u.Email, u.ID, su.password, token)
	}

	log.Println("Seed completed")
}
