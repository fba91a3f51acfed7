// Package config provides configuration loading for the store client.
// Settings come from STORE_* environment variables, optionally seeded from .env files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// init loads .env and .env.local when present.
// godotenv.Load does not override variables that are already set, so the OS environment wins.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Local overrides, gitignored
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Cache backends.
const (
	CacheFile     = "file"
	CacheMemory   = "memory"
	CachePostgres = "postgres"
)

// Config captures environment-driven settings for the store client.
type Config struct {
	Env  string // Deployment environment (dev, prod)
	Port string // HTTP server port

	Cache       string // Cache backend: file, memory or postgres
	CacheDir    string // Directory of the file cache
	DatabaseDSN string // PostgreSQL connection string for the postgres cache

	SnapdSocket string // snapd unix socket
	SnapdURL    string // snapd-compatible TCP endpoint; overrides SnapdSocket

	ODRSURL      string // Ratings service API base URL
	ODRSUserHash string // Overrides the machine-derived user hash
	ODRSDistro   string
	ODRSLocale   string
	ReviewLimit  int // Reviews requested per fetch

	NATSURL string // NATS server URL; empty disables event publishing

	S3Endpoint  string // S3-compatible storage endpoint for the media mirror
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	JWTIssuer   string // Enables bearer auth on POST routes when set
	JWTAudience string
	JWKSURL     string // Where the token signing keys are published

	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)

	LogFile string // Optional rotating log file
}

// Default configuration values used when environment variables are not set
const (
	defaultEnv         = "dev"
	defaultPort        = "8080"
	defaultCache       = CacheFile
	defaultSnapdSocket = "/run/snapd.socket"
	defaultODRSURL     = "https://odrs.gnome.org/1.0/reviews/api"
	defaultReviewLimit = 20
	defaultS3Region    = "us-east-1"
)

// DefaultCacheDir is where the file cache lives unless STORE_CACHE_DIR says otherwise.
func DefaultCacheDir() string {
	return filepath.Join(xdg.CacheHome, "snap-store")
}

// Load reads environment variables and produces a Config suitable for wiring the service.
// It returns an error for invalid values and for incomplete optional sections.
func Load() (Config, error) {
	cfg := Config{
		Env:         getEnv("STORE_ENV", defaultEnv),
		Port:        getEnv("STORE_PORT", defaultPort),
		Cache:       strings.ToLower(getEnv("STORE_CACHE", defaultCache)),
		CacheDir:    getEnv("STORE_CACHE_DIR", DefaultCacheDir()),
		DatabaseDSN: os.Getenv("STORE_DB_DSN"),

		SnapdSocket: getEnv("STORE_SNAPD_SOCKET", defaultSnapdSocket),
		SnapdURL:    os.Getenv("STORE_SNAPD_URL"),

		ODRSURL:      getEnv("STORE_ODRS_URL", defaultODRSURL),
		ODRSUserHash: os.Getenv("STORE_ODRS_USER_HASH"),
		ODRSDistro:   os.Getenv("STORE_ODRS_DISTRO"),
		ODRSLocale:   os.Getenv("STORE_ODRS_LOCALE"),
		ReviewLimit:  defaultReviewLimit,

		NATSURL: os.Getenv("STORE_NATS_URL"),

		S3Endpoint:  os.Getenv("STORE_S3_ENDPOINT"),
		S3Region:    getEnv("STORE_S3_REGION", defaultS3Region),
		S3Bucket:    os.Getenv("STORE_S3_BUCKET"),
		S3AccessKey: os.Getenv("STORE_S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("STORE_S3_SECRET_KEY"),

		JWTIssuer:   os.Getenv("STORE_JWT_ISSUER"),
		JWTAudience: os.Getenv("STORE_JWT_AUDIENCE"),
		JWKSURL:     os.Getenv("STORE_JWKS_URL"),

		LogFile: os.Getenv("STORE_LOG_FILE"),
	}

	if port, err := strconv.Atoi(cfg.Port); err != nil || port <= 0 || port > 65535 {
		return cfg, fmt.Errorf("STORE_PORT must be a port number, got %q", cfg.Port)
	}

	switch cfg.Cache {
	case CacheFile, CacheMemory:
	case CachePostgres:
		if cfg.DatabaseDSN == "" {
			return cfg, fmt.Errorf("STORE_DB_DSN is required when STORE_CACHE=postgres")
		}
	default:
		return cfg, fmt.Errorf("STORE_CACHE must be one of file, memory, postgres; got %q", cfg.Cache)
	}

	if limit := os.Getenv("STORE_REVIEW_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("STORE_REVIEW_LIMIT must be a positive integer, got %q", limit)
		}
		cfg.ReviewLimit = n
	}

	if corsOrigins, exists := os.LookupEnv("STORE_CORS_ALLOWED_ORIGINS"); exists {
		for _, origin := range strings.Split(corsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
			}
		}
	}

	if (cfg.JWTIssuer == "") != (cfg.JWTAudience == "") {
		return cfg, fmt.Errorf("STORE_JWT_ISSUER and STORE_JWT_AUDIENCE must be set together")
	}
	if cfg.JWTIssuer != "" && cfg.JWKSURL == "" {
		return cfg, fmt.Errorf("STORE_JWKS_URL is required when STORE_JWT_ISSUER is set")
	}

	return cfg, nil
}

// MirrorEnabled reports whether the S3 media mirror is configured.
func (c Config) MirrorEnabled() bool {
	return c.S3Endpoint != "" && c.S3Bucket != ""
}

// AuthEnabled reports whether POST routes require a bearer token.
func (c Config) AuthEnabled() bool {
	return c.JWTIssuer != ""
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}
