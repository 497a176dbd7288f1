package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr         string
	StoreMode          string
	DatabaseURL        string
	AdminUsername      string
	AdminPassword      string
	JWTSecret          string
	TokenEncryptionKey string

	AccountFile     string
	PollStateFile   string
	AccountUsername string
	AccountPassword string

	OwnerIDs    []string
	AppID       int
	AcceptGifts bool

	AuthBaseURL         string
	AuthTimeout         time.Duration
	AuthRateInterval    time.Duration
	ObstaclePIN         string
	RelogInterval       time.Duration
	ProbeRetryDelay     time.Duration
	SilentRenewOnExpiry bool

	TransportBaseURL string
	TransportTimeout time.Duration

	MarketBaseURL    string
	MarketAccessKey  string
	MarketTimeout    time.Duration
	MarketMaxRetries int
	MarketRetryBase  time.Duration
	MarketRetryMax   time.Duration

	SummaryURL      string
	SummaryInterval time.Duration

	TelegramBotToken string
	TelegramChatID   string
}

func Load() Config {
	return Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":18090"),
		StoreMode:          getEnv("STORE_MODE", "memory"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:      getEnv("ADMIN_PASSWORD", "change-me"),
		JWTSecret:          getEnv("JWT_SECRET", "change-this-secret"),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),

		AccountFile:     getEnv("ACCOUNT_FILE", "account.json"),
		PollStateFile:   getEnv("POLL_STATE_FILE", "polldata.json"),
		AccountUsername: getEnv("ACCOUNT_USERNAME", ""),
		AccountPassword: getEnv("ACCOUNT_PASSWORD", ""),

		OwnerIDs:    getList("OWNER_IDS", nil),
		AppID:       getInt("APP_ID", 440),
		AcceptGifts: getBool("ACCEPT_GIFTS", false),

		AuthBaseURL:         getEnv("AUTH_BASE_URL", ""),
		AuthTimeout:         getDuration("AUTH_TIMEOUT", 15*time.Second),
		AuthRateInterval:    getDuration("AUTH_RATE_INTERVAL", 5*time.Second),
		ObstaclePIN:         getEnv("OBSTACLE_PIN", ""),
		RelogInterval:       getDuration("RELOG_INTERVAL", time.Hour),
		ProbeRetryDelay:     getDuration("PROBE_RETRY_DELAY", 10*time.Second),
		SilentRenewOnExpiry: getBool("SILENT_RENEW_ON_EXPIRY", true),

		TransportBaseURL: getEnv("TRANSPORT_BASE_URL", ""),
		TransportTimeout: getDuration("TRANSPORT_TIMEOUT", 20*time.Second),

		MarketBaseURL:    getEnv("MARKET_BASE_URL", ""),
		MarketAccessKey:  getEnv("MARKET_ACCESS_KEY", ""),
		MarketTimeout:    getDuration("MARKET_TIMEOUT", 10*time.Second),
		MarketMaxRetries: getInt("MARKET_MAX_RETRIES", 3),
		MarketRetryBase:  getDuration("MARKET_RETRY_BASE", 500*time.Millisecond),
		MarketRetryMax:   getDuration("MARKET_RETRY_MAX", 5*time.Second),

		SummaryURL:      getEnv("SUMMARY_URL", ""),
		SummaryInterval: getDuration("SUMMARY_INTERVAL", 3*time.Minute),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
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

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
