package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PaymentEnvironment selects the gateway credential set explicitly. The gateway
// exposes separate test and live hosts; we never infer the environment from the
// shape of a key or URL.
type PaymentEnvironment string

const (
	PaymentEnvTest PaymentEnvironment = "test"
	PaymentEnvLive PaymentEnvironment = "live"
)

// PaymentConfig carries both credential sets; the active one is picked by
// Environment. Constructed once at startup and passed to the gateway client.
type PaymentConfig struct {
	Environment         PaymentEnvironment
	TestAPIKey          string
	LiveAPIKey          string
	TestBaseURL         string
	LiveBaseURL         string
	TestCheckoutBaseURL string
	LiveCheckoutBaseURL string
	SuccessURL          string
}

// APIKey returns the key for the configured environment.
func (p PaymentConfig) APIKey() string {
	if p.Environment == PaymentEnvLive {
		return p.LiveAPIKey
	}
	return p.TestAPIKey
}

// BaseURL returns the API host for the configured environment.
func (p PaymentConfig) BaseURL() string {
	if p.Environment == PaymentEnvLive {
		return p.LiveBaseURL
	}
	return p.TestBaseURL
}

// CheckoutBaseURL is the hosted checkout page base used when the gateway
// response carries no payment URL.
func (p PaymentConfig) CheckoutBaseURL() string {
	if p.Environment == PaymentEnvLive {
		return p.LiveCheckoutBaseURL
	}
	return p.TestCheckoutBaseURL
}

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	ListenAddr    string
	Production    bool
	MySQLDSN      string
	AdminUsername string
	AdminPassword string

	KIEAPIKey      string
	KIEBaseURL     string
	KIECallbackURL string
	RequestTimeout time.Duration

	DownloadInactivityTimeout time.Duration
	TempDir                   string

	CreditsPerVideo      int
	SignupCredits        int
	CheckInBonusCredits  int
	ReferralBonusCredits int

	DefaultPackageTitle     string
	DefaultPackageProductID string
	DefaultPackageCredits   int
	DefaultPackagePriceUSD  int
	PaymentCurrency         string

	Payment PaymentConfig

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:                getEnv("LISTEN_ADDR", ":8080"),
		Production:                strings.EqualFold(getEnv("APP_ENV", "development"), "production"),
		AdminUsername:             getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:             getEnv("ADMIN_PASSWORD", "change-me"),
		KIEBaseURL:                strings.TrimRight(getEnv("KIE_BASE_URL", "https://api.kie.ai"), "/"),
		KIECallbackURL:            getEnv("KIE_CALLBACK_URL", ""),
		RequestTimeout:            time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		DownloadInactivityTimeout: time.Second * time.Duration(getInt("DOWNLOAD_INACTIVITY_SECONDS", 300)),
		TempDir:                   getEnv("MEDIA_TEMP_DIR", ""),
		CreditsPerVideo:           getInt("CREDITS_PER_VIDEO", 10),
		SignupCredits:             getInt("SIGNUP_CREDITS", 20),
		CheckInBonusCredits:       getInt("CHECK_IN_BONUS_CREDITS", 2),
		ReferralBonusCredits:      getInt("REFERRAL_BONUS_CREDITS", 10),
		DefaultPackageTitle:       getEnv("DEFAULT_PACKAGE_TITLE", "Starter credit pack"),
		DefaultPackageProductID:   getEnv("DEFAULT_PACKAGE_PRODUCT_ID", ""),
		DefaultPackageCredits:     getInt("DEFAULT_PACKAGE_CREDITS", 100),
		DefaultPackagePriceUSD:    getInt("DEFAULT_PACKAGE_PRICE_MINOR_UNITS", 990),
		PaymentCurrency:           getEnv("PAYMENT_CURRENCY", "USD"),
		Payment: PaymentConfig{
			Environment:         PaymentEnvironment(strings.ToLower(getEnv("PAYMENT_ENV", string(PaymentEnvTest)))),
			TestAPIKey:          os.Getenv("CREEM_TEST_API_KEY"),
			LiveAPIKey:          os.Getenv("CREEM_API_KEY"),
			TestBaseURL:         getEnv("CREEM_TEST_BASE_URL", "https://test-api.creem.io"),
			LiveBaseURL:         getEnv("CREEM_BASE_URL", "https://api.creem.io"),
			TestCheckoutBaseURL: getEnv("CREEM_TEST_CHECKOUT_BASE_URL", "https://www.creem.io/test/payment"),
			LiveCheckoutBaseURL: getEnv("CREEM_CHECKOUT_BASE_URL", "https://www.creem.io/payment"),
			SuccessURL:          getEnv("CHECKOUT_SUCCESS_URL", ""),
		},
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "videos"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")

	if cfg.Payment.Environment != PaymentEnvTest && cfg.Payment.Environment != PaymentEnvLive {
		return Config{}, fmt.Errorf("invalid PAYMENT_ENV %q: want %q or %q", cfg.Payment.Environment, PaymentEnvTest, PaymentEnvLive)
	}

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.KIEAPIKey == "" {
		missing = append(missing, "KIE_API_KEY")
	}
	if cfg.Payment.APIKey() == "" {
		if cfg.Payment.Environment == PaymentEnvLive {
			missing = append(missing, "CREEM_API_KEY")
		} else {
			missing = append(missing, "CREEM_TEST_API_KEY")
		}
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running without an env file is fine in container setups where the
	// environment is injected directly.
	return nil
}
