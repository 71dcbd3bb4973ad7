package config

import (
	"os"
	"strconv"
	"time"
)

// QBOConfig holds QuickBooks Online API settings.
type QBOConfig struct {
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	BaseURL         string
	TokenURL        string
	AuthURL         string
	APIVersion      string
	MinorVersion    int
	PageSize        int
	RateLimitPerMin int
	MaxRetries      int
	RequestTimeout  time.Duration
}

// DatabaseConfig holds warehouse connection settings (PostgreSQL).
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
	PingTimeoutSec     int
}

// ArchiveConfig holds object storage settings for the raw JSON archive.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// TokenStoreConfig selects and configures the credential storage backend.
// Backend is "file" (encrypted local JSON files) or "vault" (remote secret vault).
type TokenStoreConfig struct {
	Backend       string
	FileDir       string
	FileKey       string // hex-encoded 32-byte AES key
	VaultAddr     string
	VaultToken    string
	VaultMount    string
	RefreshBuffer time.Duration
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	TenantConcurrency int
	EntityConcurrency int
	MetricsAddr       string
}

// AppConfig is the centralized configuration struct for the pipeline.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	QBO        QBOConfig
	Database   DatabaseConfig
	Archive    ArchiveConfig
	TokenStore TokenStoreConfig
	Pipeline   PipelineConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		QBO: QBOConfig{
			ClientID:        getEnv("QBO_CLIENT_ID", ""),
			ClientSecret:    getEnv("QBO_CLIENT_SECRET", ""),
			RedirectURI:     getEnv("QBO_REDIRECT_URI", "http://localhost:8080/callback"),
			BaseURL:         getEnv("QBO_BASE_URL", "https://quickbooks.api.intuit.com"),
			TokenURL:        getEnv("QBO_TOKEN_URL", "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"),
			AuthURL:         getEnv("QBO_AUTH_URL", "https://appcenter.intuit.com/connect/oauth2"),
			APIVersion:      getEnv("QBO_API_VERSION", "v3"),
			MinorVersion:    getEnvInt("QBO_MINOR_VERSION", 75),
			PageSize:        getEnvInt("QBO_MAX_RESULTS", 1000),
			RateLimitPerMin: getEnvInt("QBO_RATE_LIMIT_PER_MIN", 500),
			MaxRetries:      getEnvInt("QBO_MAX_RETRIES", 3),
			RequestTimeout:  time.Duration(getEnvInt("QBO_REQUEST_TIMEOUT_SEC", 60)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
			PingTimeoutSec:     getEnvInt("DB_PING_TIMEOUT_SEC", 5),
		},
		Archive: ArchiveConfig{
			Endpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
			SecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
			Bucket:    getEnv("ARCHIVE_BUCKET", "qbo-raw-data"),
			UseSSL:    getEnvBool("ARCHIVE_USE_SSL", false),
		},
		TokenStore: TokenStoreConfig{
			Backend:       getEnv("TOKEN_STORE_BACKEND", "file"),
			FileDir:       getEnv("TOKEN_FILE_DIR", "data/tokens"),
			FileKey:       getEnv("TOKEN_FILE_KEY", ""),
			VaultAddr:     getEnv("VAULT_ADDR", ""),
			VaultToken:    getEnv("VAULT_TOKEN", ""),
			VaultMount:    getEnv("VAULT_MOUNT", "secret"),
			RefreshBuffer: time.Duration(getEnvInt("TOKEN_REFRESH_BUFFER_SEC", 300)) * time.Second,
		},
		Pipeline: PipelineConfig{
			TenantConcurrency: getEnvInt("PIPELINE_TENANT_CONCURRENCY", 4),
			EntityConcurrency: getEnvInt("PIPELINE_ENTITY_CONCURRENCY", 2),
			MetricsAddr:       getEnv("PIPELINE_METRICS_ADDR", ""),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
