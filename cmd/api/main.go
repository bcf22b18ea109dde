package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/config"
	"carpool/internal/database"
	"carpool/internal/domain/notification"
	"carpool/internal/domain/payment"
	"carpool/internal/domain/pricing"
	"carpool/internal/domain/trip"
	"carpool/internal/domain/user"
	"carpool/internal/geo"
	"carpool/internal/middleware"
	jwtsvc "carpool/internal/pkg/jwt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
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

	var geoIndex trip.GeoIndex
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := geo.Connect(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			log.Printf("level=warn msg=redis unavailable, geo index disabled addr=%s err=%v", cfg.RedisAddr, err)
		} else {
			geoIndex = geo.NewIndex(client)
			log.Printf("level=info msg=geo index enabled addr=%s", cfg.RedisAddr)
		}
	}

	j := jwtsvc.New(cfg.JWTSecret, cfg.JWTTTL)

	userRepo := user.NewRepository(db)
	userService := user.NewService(userRepo)
	userHandler := user.NewHandler(userService)

	hub := notification.NewHub()
	notificationService := notification.NewService(notification.NewRepository(db), hub)
	notificationHandler := notification.NewHandler(notificationService, hub, j)

	engine := pricing.NewEngine(cfg.Location())
	tripService := trip.NewService(trip.NewRepository(db), userRepo, engine, notificationService, geoIndex, log.Printf)
	tripHandler := trip.NewHandler(tripService)

	paymentService := payment.NewService(
		payment.NewRepository(db),
		tripService,
		notificationService,
		payment.NewGateway(cfg.VNPay),
		cfg.PaymentTTL,
		log.Printf,
	)
	paymentHandler := payment.NewHandler(paymentService, cfg.VNPay.FrontendURL, log.Printf)

	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.ErrorLogger())
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "geoIndex": geoIndex != nil})
	})

	notificationHandler.RegisterWebSocket(r)

	v1 := r.Group("/api/v1")
	{
		// public: gateway callbacks
		paymentHandler.RegisterPublicRoutes(v1)

		protected := v1.Group("/")
		protected.Use(middleware.JWTAuth(j))
		{
			userHandler.RegisterRoutes(protected)
			tripHandler.RegisterRoutes(protected)
			paymentHandler.RegisterProtectedRoutes(protected)
			notificationHandler.RegisterRoutes(protected)
		}
	}

	log.Printf("level=info msg=server starting addr=%s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatal(err)
	}
}
