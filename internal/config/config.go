package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB        DBConfig
	JWT       JWTConfig
	Server    ServerConfig
	MinIO     MinIOConfig
	Directory DirectoryConfig
	Reconcile ReconcileConfig
	Scoring   ScoringConfig
	Invites   InviteConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port        string
	FrontendURL string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Enabled   bool
}

type DirectoryConfig struct {
	BaseURL       string
	Locale        string
	Timeout       time.Duration
	RetryAttempts int
}

type ReconcileConfig struct {
	Interval   time.Duration
	MaxWorkers int
	AutoRun    bool
}

type ScoringConfig struct {
	BasePoints    int
	YoungAgeLimit int
	YoungBonus    int
}

type InviteConfig struct {
	TTL           time.Duration
	PruneInterval time.Duration
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "deathlist"),
			Password: getEnv("DB_PASSWORD", "deathlist_secret"),
			Name:     getEnv("DB_NAME", "deathlist"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3001"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "deathlist"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "deathlist_secret"),
			Bucket:    getEnv("MINIO_BUCKET", "deathlist"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
			Enabled:   getEnvAsBool("MINIO_ENABLED", false),
		},
		Directory: DirectoryConfig{
			BaseURL:       getEnv("DIRECTORY_BASE_URL", "https://www.wikidata.org/w/api.php"),
			Locale:        getEnv("DIRECTORY_LOCALE", "en"),
			Timeout:       getEnvAsDuration("DIRECTORY_TIMEOUT", 10*time.Second),
			RetryAttempts: getEnvAsInt("DIRECTORY_RETRY_ATTEMPTS", 3),
		},
		Reconcile: ReconcileConfig{
			Interval:   getEnvAsDuration("RECONCILE_INTERVAL", 6*time.Hour),
			MaxWorkers: getEnvAsInt("RECONCILE_MAX_WORKERS", 4),
			AutoRun:    getEnvAsBool("RECONCILE_AUTO_RUN", false),
		},
		Scoring: ScoringConfig{
			BasePoints:    getEnvAsInt("SCORE_BASE_POINTS", 10),
			YoungAgeLimit: getEnvAsInt("SCORE_YOUNG_AGE_LIMIT", 0),
			YoungBonus:    getEnvAsInt("SCORE_YOUNG_BONUS", 0),
		},
		Invites: InviteConfig{
			TTL:           getEnvAsDuration("INVITE_TTL", 7*24*time.Hour),
			PruneInterval: getEnvAsDuration("INVITE_PRUNE_INTERVAL", 12*time.Hour),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
