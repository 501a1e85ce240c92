package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	kycstrings "kycflow/pkg/platform/strings"
)

// Device captures the on-device daemon configuration.
type Device struct {
	Addr     string
	LogLevel string
	DeviceID string

	DataDir         string
	DatabasePath    string
	MediaDir        string
	SpoolDir        string
	PreferencesFile string
	ThresholdsFile  string

	DocumentOracleURL string
	FaceOracleURL     string
	OracleTimeout     time.Duration
	OracleAttempts    int
	StageRetries      int
	ChallengeCount    int
	// PreviewLimit stops advisory polling on a capture screen left open.
	PreviewLimit time.Duration

	Sync Sync
}

// Sync configures the outbox worker and its uploader.
type Sync struct {
	Transport     string // "http" or "kafka"
	BackendURL    string
	JWTSigningKey string
	KafkaBrokers  []string
	KafkaTopic    string

	PollInterval     time.Duration
	BatchSize        int
	MaxAttempts      int
	ReactivateAfter  time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Backend captures the reference verification backend configuration.
type Backend struct {
	Addr          string
	LogLevel      string
	DatabaseURL   string
	JWTSigningKey string
	// AdminTokenHash is the bcrypt hash of the operator token. AdminToken is
	// the plaintext form, hashed at startup when no hash is set.
	AdminToken     string
	AdminTokenHash string
	Redis          RedisConfig
	KafkaBrokers   []string
	KafkaTopic     string
	PublishEvery   time.Duration
	IdempotentTTL  time.Duration
}

// RedisConfig holds connection settings for the backend idempotency cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DeviceFromEnv builds the daemon config from environment variables so main stays lean.
func DeviceFromEnv() Device {
	dataDir := getString("KYC_DATA_DIR", "./data")
	return Device{
		Addr:     getString("KYC_ADDR", "127.0.0.1:8470"),
		LogLevel: getString("KYC_LOG_LEVEL", "info"),
		DeviceID: os.Getenv("KYC_DEVICE_ID"),

		DataDir:         dataDir,
		DatabasePath:    getString("KYC_DB_PATH", filepath.Join(dataDir, "kyc.db")),
		MediaDir:        getString("KYC_MEDIA_DIR", filepath.Join(dataDir, "media")),
		SpoolDir:        getString("KYC_SPOOL_DIR", filepath.Join(dataDir, "spool")),
		PreferencesFile: getString("KYC_PREFERENCES_FILE", filepath.Join(dataDir, "preferences.yaml")),
		ThresholdsFile:  os.Getenv("KYC_THRESHOLDS_FILE"),

		DocumentOracleURL: getString("KYC_DOCUMENT_ORACLE_URL", "http://127.0.0.1:8481"),
		FaceOracleURL:     getString("KYC_FACE_ORACLE_URL", "http://127.0.0.1:8482"),
		OracleTimeout:     getDuration("KYC_ORACLE_TIMEOUT", 20*time.Second),
		OracleAttempts:    getInt("KYC_ORACLE_ATTEMPTS", 2),
		StageRetries:      getInt("KYC_STAGE_RETRIES", 3),
		ChallengeCount:    getInt("KYC_CHALLENGE_COUNT", 3),
		PreviewLimit:      getDuration("KYC_PREVIEW_LIMIT", 2*time.Minute),

		Sync: Sync{
			Transport:     getString("KYC_SYNC_TRANSPORT", "http"),
			BackendURL:    getString("KYC_BACKEND_URL", "http://127.0.0.1:8090"),
			JWTSigningKey: getString("KYC_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			KafkaBrokers:  getList("KYC_KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
			KafkaTopic:    getString("KYC_KAFKA_TOPIC", "kyc.verifications"),

			PollInterval:     getDuration("KYC_SYNC_POLL_INTERVAL", 5*time.Second),
			BatchSize:        getInt("KYC_SYNC_BATCH_SIZE", 16),
			MaxAttempts:      getInt("KYC_SYNC_MAX_ATTEMPTS", 10),
			ReactivateAfter:  getDuration("KYC_SYNC_REACTIVATE_AFTER", 6*time.Hour),
			InitialBackoff:   getDuration("KYC_SYNC_INITIAL_BACKOFF", 2*time.Second),
			MaxBackoff:       getDuration("KYC_SYNC_MAX_BACKOFF", 15*time.Minute),
			BreakerThreshold: getInt("KYC_SYNC_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getDuration("KYC_SYNC_BREAKER_COOLDOWN", time.Minute),
		},
	}
}

// BackendFromEnv builds the verification backend config.
func BackendFromEnv() Backend {
	return Backend{
		Addr:           getString("BACKEND_ADDR", ":8090"),
		LogLevel:       getString("BACKEND_LOG_LEVEL", "info"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSigningKey:  getString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		AdminToken:     os.Getenv("ADMIN_TOKEN"),
		AdminTokenHash: os.Getenv("ADMIN_TOKEN_HASH"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		KafkaBrokers:  getList("KAFKA_BROKERS", nil),
		KafkaTopic:    getString("KAFKA_TOPIC", "kyc.verifications.ingested"),
		PublishEvery:  getDuration("OUTBOX_PUBLISH_INTERVAL", 2*time.Second),
		IdempotentTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
	}
}

func getString(key, fallback string) string {
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
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	if v := kycstrings.SplitList(os.Getenv(key), ","); len(v) > 0 {
		return v
	}
	return fallback
}
