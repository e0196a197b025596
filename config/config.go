package config

import (
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Everything is read from the environment (optionally via a .env file) with defaults
// suitable for a local review station talking to a detection backend on localhost.
type Config struct {
	ListenAddr string

	// Detection backend
	DetectionAPIURL     string
	DetectionTimeout    time.Duration
	DefaultModel        string
	DefaultCapabilities []string

	// Media subsystem
	FFmpegPath       string
	FFplayPath       string
	CaptureFormat    string // ffmpeg input format: avfoundation, pulse, alsa, dshow
	CaptureDevice    string // ffmpeg input device name, e.g. ":default" or "default"
	CaptureContainer string // container of recorded takes: webm or ogg
	CaptureTimeout   time.Duration
	ElapsedTick      time.Duration // recording elapsed-time resolution
	TimeUpdateTick   time.Duration // playback position report interval

	// Redis, caches fetched redacted audio
	RedisEnabled     bool
	RedisHost        string
	RedisPort        string
	RedisPassword    string
	RedisDB          int
	RedactedCacheTTL time.Duration

	// MinIO, archives committed recordings
	MinioEnabled   bool
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	// MySQL, review history
	DBEnabled  bool
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// JWTSecret enables bearer-token auth on the HTTP API when non-empty.
	JWTSecret string

	LogLevel      string
	LogPath       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("250ms", "30s").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// defaultCaptureInput picks the ffmpeg input format and device for the host OS.
func defaultCaptureInput() (string, string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":default"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() does not override variables that are already set.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	captureFormat, captureDevice := defaultCaptureInput()
	ffmpegPath := getEnv("FFMPEG_PATH", "ffmpeg")

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DetectionAPIURL:     getEnv("DETECTION_API_URL", "http://127.0.0.1:5000"),
		DetectionTimeout:    getEnvDuration("DETECTION_TIMEOUT", 10*time.Minute),
		DefaultModel:        getEnv("DETECTION_MODEL", "deberta"),
		DefaultCapabilities: getEnvList("DETECTION_CAPABILITIES", []string{"entity_detection"}),

		FFmpegPath:       ffmpegPath,
		FFplayPath:       getEnv("FFPLAY_PATH", strings.Replace(ffmpegPath, "ffmpeg", "ffplay", 1)),
		CaptureFormat:    getEnv("CAPTURE_FORMAT", captureFormat),
		CaptureDevice:    getEnv("CAPTURE_DEVICE", captureDevice),
		CaptureContainer: getEnv("CAPTURE_CONTAINER", "webm"),
		CaptureTimeout:   getEnvDuration("CAPTURE_TIMEOUT", 10*time.Second),
		ElapsedTick:      getEnvDuration("ELAPSED_TICK", 100*time.Millisecond),
		TimeUpdateTick:   getEnvDuration("TIMEUPDATE_TICK", 250*time.Millisecond),

		RedisEnabled:     getEnvBool("REDIS_ENABLED", false),
		RedisHost:        getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:        getEnv("REDIS_PORT", "6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedactedCacheTTL: getEnvDuration("REDACTED_CACHE_TTL", 30*time.Minute),

		MinioEnabled:   getEnvBool("MINIO_ENABLED", false),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "piireview"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		DBEnabled:  getEnvBool("DB_ENABLED", false),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for the password
		DBName:     getEnv("DB_NAME", "piireview"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPath:       getEnv("LOG_PATH", "logs/piireview.log"),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 28),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}
