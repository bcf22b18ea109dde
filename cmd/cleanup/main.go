package main

import (
	"context"
	"flag"
	"log"
	"time"

	"carpool/internal/config"
	"carpool/internal/database"
	"carpool/internal/domain/notification"
	"carpool/internal/domain/payment"
)

func main() {
	paymentGrace := flag.Duration("payment-grace", 24*time.Hour, "how long past expiry a pending payment may still be confirmed by the gateway")
	notificationAge := flag.Duration("notification-age", 30*24*time.Hour, "delete read notifications older than this")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	ctx := context.Background()

	// trips are not needed to expire payments
	payments := payment.NewService(payment.NewRepository(db), nil, nil, payment.NewGateway(cfg.VNPay), cfg.PaymentTTL, log.Printf)
	expired, err := payments.ExpireStale(ctx, *paymentGrace)
	if err != nil {
		log.Fatalf("cleanup payments failed: %v", err)
	}

	notifications := notification.NewService(notification.NewRepository(db), nil)
	purged, err := notifications.PurgeRead(ctx, *notificationAge)
	if err != nil {
		log.Fatalf("cleanup notifications failed: %v", err)
	}

	log.Printf("cleanup completed: expired_payments=%d purged_notifications=%d", expired, purged)
}
