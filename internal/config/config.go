package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	State    StateConfig
	Auth     AuthConfig
	Payments PaymentsConfig
	Mail     MailConfig
	Shop     ShopConfig
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	PublicBaseURL  string
}

// StateConfig selects the persistence backend for shop state.
// Backend is one of "file", "postgres" or "auto"; auto tries postgres
// and falls back to files when the database is unreachable.
type StateConfig struct {
	Backend string
	DataDir string
}

type AuthConfig struct {
	SessionSecret     string
	SessionTTL        time.Duration
	AdminEmail        string
	AdminPassword     string
	OTPTTL            time.Duration
	OTPMaxAttempts    int
	OTPResendInterval time.Duration
	Discord           DiscordConfig
}

type DiscordConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type PaymentsConfig struct {
	Stripe StripeConfig
	PayPal PayPalConfig
	OxaPay OxaPayConfig
}

type StripeConfig struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
	Currency   string
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	APIBase      string
	ReturnURL    string
	CancelURL    string
	Currency     string
	ManualHandle string
	ManualURL    string
}

type OxaPayConfig struct {
	MerchantKey string
	APIBase     string
	ReturnURL   string
	Currency    string
	LifetimeMin int
	ManualURL   string
}

type MailConfig struct {
	ResendAPIKey string
	FromAddress  string
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
}

type ShopConfig struct {
	Name    string
	LogoURL string
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			AllowedOrigins: getEnvList("SHOP_ALLOWED_ORIGINS", []string{"*"}),
			PublicBaseURL:  getEnv("SHOP_PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		State: StateConfig{
			Backend: getEnv("STATE_BACKEND", "auto"),
			DataDir: getEnv("STATE_DATA_DIR", "data"),
		},
		Auth: AuthConfig{
			SessionSecret:     getEnv("SESSION_SECRET", ""),
			SessionTTL:        getEnvDuration("SESSION_TTL", 24*time.Hour),
			AdminEmail:        getEnv("ADMIN_EMAIL", "admin@example.com"),
			AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
			OTPTTL:            getEnvDuration("OTP_TTL", 5*time.Minute),
			OTPMaxAttempts:    getEnvInt("OTP_MAX_ATTEMPTS", 5),
			OTPResendInterval: getEnvDuration("OTP_RESEND_INTERVAL", 30*time.Second),
			Discord: DiscordConfig{
				ClientID:     getEnv("DISCORD_CLIENT_ID", ""),
				ClientSecret: getEnv("DISCORD_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("DISCORD_REDIRECT_URL", ""),
			},
		},
		Payments: PaymentsConfig{
			Stripe: StripeConfig{
				SecretKey:  getEnv("STRIPE_SECRET_KEY", ""),
				SuccessURL: getEnv("STRIPE_SUCCESS_URL", ""),
				CancelURL:  getEnv("STRIPE_CANCEL_URL", ""),
				Currency:   getEnv("STRIPE_CURRENCY", "usd"),
			},
			PayPal: PayPalConfig{
				ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
				ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
				APIBase:      getEnv("PAYPAL_API_BASE", "https://api-m.paypal.com"),
				ReturnURL:    getEnv("PAYPAL_RETURN_URL", ""),
				CancelURL:    getEnv("PAYPAL_CANCEL_URL", ""),
				Currency:     getEnv("PAYPAL_CURRENCY", "USD"),
				ManualHandle: getEnv("PAYPAL_MANUAL_HANDLE", ""),
				ManualURL:    getEnv("PAYPAL_MANUAL_URL", ""),
			},
			OxaPay: OxaPayConfig{
				MerchantKey: getEnv("OXAPAY_MERCHANT_KEY", ""),
				APIBase:     getEnv("OXAPAY_API_BASE", "https://api.oxapay.com"),
				ReturnURL:   getEnv("OXAPAY_RETURN_URL", ""),
				Currency:    getEnv("OXAPAY_CURRENCY", "USD"),
				LifetimeMin: getEnvInt("OXAPAY_LIFETIME_MINUTES", 30),
				ManualURL:   getEnv("CRYPTO_MANUAL_URL", ""),
			},
		},
		Mail: MailConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			FromAddress:  getEnv("MAIL_FROM", "shop@example.com"),
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUser:     getEnv("SMTP_USER", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		},
		Shop: ShopConfig{
			Name:    getEnv("SHOP_NAME", "Storefront"),
			LogoURL: getEnv("SHOP_LOGO_URL", ""),
		},
	}

	if cfg.State.Backend != "file" && cfg.State.Backend != "postgres" && cfg.State.Backend != "auto" {
		return nil, fmt.Errorf("invalid STATE_BACKEND %q (want file, postgres or auto)", cfg.State.Backend)
	}
	if cfg.State.Backend == "postgres" && cfg.Database.URL == "" {
		return nil, fmt.Errorf("STATE_BACKEND=postgres requires DATABASE_URL")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		fmt.Printf("Warning: invalid duration for %s, using default\n", key)
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
