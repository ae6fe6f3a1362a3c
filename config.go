package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Store backends.
const (
	storeFile   = "file"
	storeSQLite = "sqlite"
	storeRedis  = "redis"
	storeMemory = "memory"
)

// Defaults.
const (
	defaultAPIURL      = "http://localhost:8000/api"
	defaultTimeoutMS   = "30000"
	defaultRetries     = "3"
	defaultRetryMS     = "1000"
	defaultStore       = storeFile
	defaultStorePath   = ".lease-session.json"
	defaultSQLitePath  = ".lease-session.db"
	defaultRedisAddr   = "localhost:6379"
	defaultStoreKey    = "persist:root"
	defaultDownloadDir = "."
)

// flagValues holds the raw persistent flag values; empty means unset.
type flagValues struct {
	apiURL      string
	timeout     string
	retries     string
	retryDelay  string
	store       string
	storePath   string
	redisAddr   string
	storeKey    string
	downloadDir string
	debug       bool
	metrics     bool
	trace       bool
}

func (f *flagValues) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.apiURL, "api-url", "", "Backend base URL (default: "+defaultAPIURL+" or API_URL env)")
	fs.StringVar(&f.timeout, "timeout", "", "Request timeout in ms (default: "+defaultTimeoutMS+" or API_TIMEOUT env)")
	fs.StringVar(&f.retries, "retries", "", "Retries for transient failures (default: "+defaultRetries+" or API_RETRY_COUNT env)")
	fs.StringVar(&f.retryDelay, "retry-delay", "", "Base retry delay in ms (default: "+defaultRetryMS+" or API_RETRY_DELAY env)")
	fs.StringVar(&f.store, "store", "", "Session store: file, sqlite, redis or memory (default: file or STORE env)")
	fs.StringVar(&f.storePath, "store-path", "", "Session file or SQLite path (or STORE_PATH env)")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "Redis address for --store=redis (default: "+defaultRedisAddr+" or REDIS_ADDR env)")
	fs.StringVar(&f.storeKey, "store-key", "", "Key of the persisted app state (default: "+defaultStoreKey+" or STORE_KEY env)")
	fs.StringVar(&f.downloadDir, "download-dir", "", "Directory for downloads (default: . or DOWNLOAD_DIR env)")
	fs.BoolVar(&f.debug, "debug", false, "Log HTTP traffic to stderr (or DEBUG env)")
	fs.BoolVar(&f.metrics, "metrics", false, "Print client metrics to stderr on exit")
	fs.BoolVar(&f.trace, "trace", false, "Write request spans to stderr (or TRACE env)")
}

// config is the resolved configuration.
type config struct {
	APIURL      string
	Timeout     time.Duration
	Retries     int
	RetryDelay  time.Duration
	Store       string
	StorePath   string
	RedisAddr   string
	StoreKey    string
	DownloadDir string
	Debug       bool
	Metrics     bool
	Trace       bool
}

// loadConfig resolves every setting with priority: flag > env > default.
// godotenv has already merged .env into the environment.
func loadConfig(f *flagValues) (*config, error) {
	cfg := &config{
		APIURL:      getConfig(f.apiURL, "API_URL", defaultAPIURL),
		Store:       strings.ToLower(getConfig(f.store, "STORE", defaultStore)),
		RedisAddr:   getConfig(f.redisAddr, "REDIS_ADDR", defaultRedisAddr),
		StoreKey:    getConfig(f.storeKey, "STORE_KEY", defaultStoreKey),
		DownloadDir: getConfig(f.downloadDir, "DOWNLOAD_DIR", defaultDownloadDir),
		Debug:       f.debug || envBool("DEBUG"),
		Metrics:     f.metrics,
		Trace:       f.trace || envBool("TRACE"),
	}

	if err := validateServerURL(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("invalid API_URL: %w", err)
	}

	var err error
	if cfg.Timeout, err = parseMillis("API_TIMEOUT", getConfig(f.timeout, "API_TIMEOUT", defaultTimeoutMS)); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = parseMillis("API_RETRY_DELAY", getConfig(f.retryDelay, "API_RETRY_DELAY", defaultRetryMS)); err != nil {
		return nil, err
	}
	if cfg.Retries, err = parseRetries(getConfig(f.retries, "API_RETRY_COUNT", defaultRetries)); err != nil {
		return nil, err
	}

	defaultPath := defaultStorePath
	switch cfg.Store {
	case storeFile, storeMemory, storeRedis:
	case storeSQLite:
		defaultPath = defaultSQLitePath
	default:
		return nil, fmt.Errorf("unknown STORE %q (want file, sqlite, redis or memory)", cfg.Store)
	}
	cfg.StorePath = getConfig(f.storePath, "STORE_PATH", defaultPath)

	return cfg, nil
}

// insecureWarning returns a warning for plaintext HTTP to a non-loopback
// host, or "".
func (c *config) insecureWarning() string {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme != "http" {
		return ""
	}
	host := u.Hostname()
	if host == "localhost" {
		return ""
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return ""
	}
	return "WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!"
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

func parseMillis(name, value string) (time.Duration, error) {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%s must be positive, got: %d", name, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// parseRetries maps API_RETRY_COUNT to the retry budget; "0" disables
// retrying.
func parseRetries(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid API_RETRY_COUNT %q: %w", value, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("API_RETRY_COUNT must not be negative, got: %d", n)
	}
	return n, nil
}
