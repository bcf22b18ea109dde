package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultDatabaseURL     = "carpool.db"
	defaultJWTSecret       = "change-me-jwt-secret"
	defaultJWTTTL          = "24h"
	defaultPaymentTTL      = "15m"
	defaultPricingTimezone = "Asia/Ho_Chi_Minh"
	defaultVNPayPayURL     = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"
	defaultVNPayReturnURL  = "http://localhost:8080/api/v1/payments/vnpay/return"
	defaultFrontendURL     = "http://localhost:5173"
	defaultVNPayHashSecret = "change-me-vnpay-secret"
)

type VNPayConfig struct {
	TmnCode     string
	HashSecret  string
	PayURL      string
	ReturnURL   string
	FrontendURL string
}

type Config struct {
	AppEnv          string
	HTTPAddr        string
	DatabaseURL     string
	JWTSecret       string
	JWTTTL          time.Duration
	RedisAddr       string
	CORSOrigins     []string
	PricingTimezone string
	PaymentTTL      time.Duration
	VNPay           VNPayConfig
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("level=warn msg=failed to load .env err=%v", err)
	}

	cfg := &Config{}
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	cfg.AppEnv = strings.ToLower(appEnv)

	cfg.HTTPAddr = strings.TrimSpace(getEnv("HTTP_ADDR", defaultHTTPAddr))
	cfg.DatabaseURL = strings.TrimSpace(getEnv("DATABASE_URL", defaultDatabaseURL))
	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", defaultJWTSecret))
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.PricingTimezone = strings.TrimSpace(getEnv("PRICING_TIMEZONE", defaultPricingTimezone))
	cfg.CORSOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	var err error
	cfg.JWTTTL, err = parseDurationEnv("JWT_TTL", defaultJWTTTL)
	if err != nil {
		return nil, err
	}
	cfg.PaymentTTL, err = parseDurationEnv("PAYMENT_TTL", defaultPaymentTTL)
	if err != nil {
		return nil, err
	}

	cfg.VNPay = VNPayConfig{
		TmnCode:     strings.TrimSpace(os.Getenv("VNPAY_TMN_CODE")),
		HashSecret:  strings.TrimSpace(getEnv("VNPAY_HASH_SECRET", defaultVNPayHashSecret)),
		PayURL:      strings.TrimSpace(getEnv("VNPAY_PAY_URL", defaultVNPayPayURL)),
		ReturnURL:   strings.TrimSpace(getEnv("VNPAY_RETURN_URL", defaultVNPayReturnURL)),
		FrontendURL: strings.TrimRight(strings.TrimSpace(getEnv("FRONTEND_URL", defaultFrontendURL)), "/"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	log.Printf("level=info msg=config loaded env=%s http_addr=%s redis_enabled=%t payment_ttl=%s",
		cfg.AppEnv, cfg.HTTPAddr, cfg.RedisAddr != "", cfg.PaymentTTL)

	return cfg, nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.PricingTimezone)
	if err != nil {
		log.Printf("level=warn msg=unknown pricing timezone, using UTC+7 tz=%s err=%v", c.PricingTimezone, err)
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

func validateConfig(cfg *Config) error {
	if cfg.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be > 0")
	}
	if cfg.PaymentTTL <= 0 {
		return fmt.Errorf("PAYMENT_TTL must be > 0")
	}
	if cfg.VNPay.PayURL == "" || cfg.VNPay.ReturnURL == "" {
		return fmt.Errorf("VNPAY_PAY_URL and VNPAY_RETURN_URL must not be empty")
	}

	if isProdLike(cfg.AppEnv) {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if isEmptyOrDefault(cfg.VNPay.HashSecret, defaultVNPayHashSecret) {
			return fmt.Errorf("in prod/release VNPAY_HASH_SECRET must be set and not default")
		}
		if cfg.VNPay.TmnCode == "" {
			return fmt.Errorf("in prod/release VNPAY_TMN_CODE must be set")
		}
	}

	return nil
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
