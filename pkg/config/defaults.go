// Package config provides centralized default values for the telemetry agent
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		if _, err := os.Stat(".env"); err != nil {
			return
		}
		log.Println("Loading configuration overrides from .env file...")
		// godotenv.Load never overrides variables already set in the environment.
		if err := godotenv.Load(".env"); err != nil {
			log.Printf("Failed to load .env file: %v", err)
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseFloat(valStr, 64); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%g (default: %g)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

// getEnvSecret never echoes the value.
func getEnvSecret(key string) string {
	val := os.Getenv(key)
	if val != "" {
		log.Printf("Config override: %s=<redacted>", key)
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string) []string {
	valStr := os.Getenv(key)
	if valStr == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(valStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	log.Printf("Config override: %s=%s", key, strings.Join(out, ","))
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	CORSOrigins        []string

	// Capture Configuration
	Namespace       string
	AnalyticsDomain string
	EnableTracking  bool
	ConsentRequired bool

	// Durable Store
	StoreDriver        string
	StoreDSN           string
	StoreMaxValueBytes int
	LogCapacity        int
	SlowQueryThreshold time.Duration

	// Dispatch
	BatchSize            int
	FlushInterval        time.Duration
	CollectorEndpoint    string
	CollectorTimeout     time.Duration
	CollectorJWTSecret   string
	TagEndpoint          string
	TagMeasurementID     string
	MaxDispatchAttempts  int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// Reporting
	ProblematicThreshold  float64
	ProblematicMinSamples int
	ConfidenceSmoothing   float64
	TopQuestionLimit      int

	// Logging
	LogDirectory string
	LogToFile    bool
	LogJSON      bool
	LogLevel     string

	// SSE Configuration
	SSEHeartbeatIntervalSeconds int
	MaxSSEConnections           int
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8087")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 0)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	CORSOrigins = getEnvList("CORS_ORIGINS")

	// Capture Configuration
	Namespace = getEnvString("TELEMETRY_NAMESPACE", "faq")
	AnalyticsDomain = getEnvString("TELEMETRY_DOMAIN", "faq")
	EnableTracking = getEnvBool("ENABLE_TRACKING", true)
	ConsentRequired = getEnvBool("CONSENT_REQUIRED", true)

	// Durable Store
	StoreDriver = getEnvString("STORE_DRIVER", "sqlite3")
	StoreDSN = getEnvString("STORE_DSN", "file:telemetry.db?_busy_timeout=5000&_journal_mode=WAL")
	StoreMaxValueBytes = getEnvInt("STORE_MAX_VALUE_BYTES", 5*1024*1024)
	LogCapacity = getEnvInt("LOG_CAPACITY", 100)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 100*time.Millisecond)

	// Dispatch
	BatchSize = getEnvInt("BATCH_SIZE", 10)
	FlushInterval = getEnvDuration("FLUSH_INTERVAL", 30*time.Second)
	CollectorEndpoint = getEnvString("COLLECTOR_ENDPOINT", "")
	CollectorTimeout = getEnvDuration("COLLECTOR_TIMEOUT", 10*time.Second)
	CollectorJWTSecret = getEnvSecret("COLLECTOR_JWT_SECRET")
	TagEndpoint = getEnvString("TAG_ENDPOINT", "")
	TagMeasurementID = getEnvString("TAG_MEASUREMENT_ID", "")
	MaxDispatchAttempts = getEnvInt("MAX_DISPATCH_ATTEMPTS", 10)
	RetryInitialInterval = getEnvDuration("RETRY_INITIAL_INTERVAL", 5*time.Second)
	RetryMaxInterval = getEnvDuration("RETRY_MAX_INTERVAL", 5*time.Minute)

	// Reporting
	ProblematicThreshold = getEnvFloat("PROBLEMATIC_THRESHOLD", 70)
	ProblematicMinSamples = getEnvInt("PROBLEMATIC_MIN_SAMPLES", 5)
	ConfidenceSmoothing = getEnvFloat("CONFIDENCE_SMOOTHING", 5)
	TopQuestionLimit = getEnvInt("TOP_QUESTION_LIMIT", 10)

	// Logging
	LogDirectory = getEnvString("LOG_DIRECTORY", "logs")
	LogToFile = getEnvBool("LOG_TO_FILE", false)
	LogJSON = getEnvBool("LOG_JSON", true)
	LogLevel = getEnvString("LOG_LEVEL", "info")

	// SSE Configuration
	SSEHeartbeatIntervalSeconds = getEnvInt("SSE_HEARTBEAT_INTERVAL_SECONDS", 30)
	MaxSSEConnections = getEnvInt("MAX_SSE_CONNECTIONS", 1000)
}
