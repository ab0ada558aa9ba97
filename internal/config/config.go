package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	WorkerID    string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Frigate platform
	FrigateURL     string
	FrigateAPIKey  string
	FrigateTimeout time.Duration

	// Detector service
	DetectorURL     string
	DetectorTimeout time.Duration

	// Event discovery
	PollInterval time.Duration
	PollLookback time.Duration // how far back the first poll reaches
	PageLimit    int           // events per page when listing
	EventLabels  []string      // platform labels worth reviewing; empty = all

	// Decision policy
	ConfidenceThreshold float32
	// LabelEquivalence maps detector vocabulary to platform vocabulary,
	// e.g. "person=pedestrian;car=vehicle,automobile". Identity is implicit.
	LabelEquivalence map[string]string

	// Review pipeline
	ReviewWorkers int
	MaxAttempts   int
	MarkTimeout   time.Duration

	// Dedup store
	DedupDBPath string
	// RetentionWindow must exceed the platform's own event retention,
	// otherwise a pruned event can be re-surfaced and re-marked. Safe only
	// because mark-false-positive is idempotent on the platform side.
	RetentionWindow time.Duration

	// NATS (for verdict notifications)
	NatsEnabled        bool
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	VerdictsSubject    string

	// Review archive (snapshot + decision detail per event)
	ArchiveEnabled bool
	ArchiveDir     string

	// Snapshot preparation before inference
	SnapshotDownscaleEnabled bool
	MaxSnapshotWidth         int
	MaxSnapshotHeight        int
	SnapshotQuality          int // JPEG quality (1-100)

	// Swagger Configuration
	SwaggerHost string
	SwaggerPort int

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		WorkerID:    getEnv("WORKER_ID", ""),
		Port:        getEnvInt("PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy (lightweight web log viewer)
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// Frigate platform
		FrigateURL:     getEnv("FRIGATE_URL", "http://localhost:5000"),
		FrigateAPIKey:  getEnv("FRIGATE_API_KEY", ""),
		FrigateTimeout: getEnvDuration("FRIGATE_TIMEOUT", 10*time.Second),

		// Detector service
		DetectorURL:     getEnv("DETECTOR_URL", "http://localhost:32168"),
		DetectorTimeout: getEnvDuration("DETECTOR_TIMEOUT", 15*time.Second),

		// Event discovery
		PollInterval: getEnvDuration("POLL_INTERVAL", 30*time.Second),
		PollLookback: getEnvDuration("POLL_LOOKBACK", 1*time.Hour),
		PageLimit:    getEnvInt("PAGE_LIMIT", 100),
		EventLabels:  getEnvList("EVENT_LABELS", "person,car,truck,dog,cat"),

		// Decision policy
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),
		LabelEquivalence:    getEnvEquivalence("LABEL_EQUIVALENCE", "person=pedestrian;car=vehicle,automobile"),

		// Review pipeline
		ReviewWorkers: getEnvInt("REVIEW_WORKERS", 3),
		MaxAttempts:   getEnvInt("MAX_ATTEMPTS", 3),
		MarkTimeout:   getEnvDuration("MARK_TIMEOUT", 10*time.Second),

		// Dedup store
		DedupDBPath:     getEnv("DEDUP_DB_PATH", "reviewer.db"),
		RetentionWindow: getEnvDuration("RETENTION_WINDOW", 240*time.Hour), // 10 days

		// NATS (for verdict notifications)
		NatsEnabled:        getEnvBool("NATS_ENABLED", false),
		NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		VerdictsSubject:    getEnv("VERDICTS_SUBJECT", "reviews.verdicts"),

		// Review archive
		ArchiveEnabled: getEnvBool("ARCHIVE_ENABLED", false),
		ArchiveDir:     getEnv("ARCHIVE_DIR", "reviewed_images"),

		// Snapshot preparation
		SnapshotDownscaleEnabled: getEnvBool("SNAPSHOT_DOWNSCALE_ENABLED", false),
		MaxSnapshotWidth:         getEnvInt("MAX_SNAPSHOT_WIDTH", 1280),
		MaxSnapshotHeight:        getEnvInt("MAX_SNAPSHOT_HEIGHT", 720),
		SnapshotQuality:          getEnvInt("SNAPSHOT_QUALITY", 90),

		// Swagger Configuration
		SwaggerHost: getEnv("SWAGGER_HOST", "localhost"),
		SwaggerPort: getEnvInt("SWAGGER_PORT", 8000),

		// Graceful Shutdown
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvEquivalence parses "canonical=alias1,alias2;canonical2=alias3" into
// an alias->canonical map. Keys are lowercased; identity mappings are left
// implicit and handled by the decision engine.
func getEnvEquivalence(key, defaultValue string) map[string]string {
	raw := getEnv(key, defaultValue)
	out := make(map[string]string)

	for _, group := range strings.Split(raw, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}

		parts := strings.SplitN(group, "=", 2)
		if len(parts) != 2 {
			log.Warn().Str("entry", group).Msg("Ignoring malformed label equivalence entry")
			continue
		}

		canonical := strings.ToLower(strings.TrimSpace(parts[0]))
		for _, alias := range strings.Split(parts[1], ",") {
			alias = strings.ToLower(strings.TrimSpace(alias))
			if alias != "" && canonical != "" {
				out[alias] = canonical
			}
		}
	}

	return out
}
