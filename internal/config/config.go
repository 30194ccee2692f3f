// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Data      DataConfig
	Server    ServerConfig
	Catalog   CatalogConfig
	Recompute RecomputeConfig
	Scanner   ScannerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// DataConfig holds on-disk storage locations.
type DataConfig struct {
	// BasePath holds the badger store, the search index (search.bleve) and the lookup history database.
	BasePath string
}

// StorePath is the badger directory.
func (d DataConfig) StorePath() string { return filepath.Join(d.BasePath, "store") }

// ScanLogPath is the SQLite lookup history file.
func (d DataConfig) ScanLogPath() string { return filepath.Join(d.BasePath, "lookups.db") }

// ServerConfig holds server configuration.
type ServerConfig struct {
	Name           string
	Port           string        // Server port (default: 8080)
	ReadTimeout    time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout   time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout    time.Duration // HTTP idle timeout (default: 60s)
	AllowedOrigins []string      // CORS origins (default: *)
	RateLimit      int           // Requests per minute per client IP, 0 disables (default: 600)
}

// CatalogConfig controls how the lookup endpoint treats unknown barcodes.
type CatalogConfig struct {
	// ProvisionUnknown creates a placeholder product for a valid barcode that is not stored yet.
	// When false the endpoint answers with the legacy not_found body instead.
	ProvisionUnknown bool
	// LookupRetention is how long lookup history is kept. 0 keeps it forever (default: 2160h).
	LookupRetention time.Duration
}

// RecomputeConfig sizes the score recomputation worker.
type RecomputeConfig struct {
	Workers   int // default: 4
	QueueSize int // default: 256
}

// ScannerConfig holds settings for the scan client.
type ScannerConfig struct {
	LookupURL      string
	WindowSize     int  // default: 6
	Threshold      int  // default: 3
	PreferFallback bool // Skip the native detector even when one is available
	PollInterval   time.Duration
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load parses args into fs and builds the configuration.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := fs.String("data-path", "", "Base path for the store, search index and lookup history")

	serverName := fs.String("server-name", "", "Name for the server")
	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	allowedOrigins := fs.String("allowed-origins", "", "Comma separated CORS origins (default: *)")
	rateLimit := fs.String("rate-limit", "", "Requests per minute per client, 0 disables (default: 600)")

	provisionUnknown := fs.String("provision-unknown", "", "Create placeholder products for unknown barcodes (default: true)")
	lookupRetention := fs.String("lookup-retention", "", "How long lookup history is kept, 0 keeps it forever (default: 2160h)")

	recomputeWorkers := fs.String("recompute-workers", "", "Score recompute workers (default: 4)")
	recomputeQueue := fs.String("recompute-queue", "", "Score recompute queue size (default: 256)")

	lookupURL := fs.String("lookup-url", "", "Base URL of the lookup endpoint (default: http://localhost:8080)")
	windowSize := fs.String("window-size", "", "Stability window size (default: 6)")
	threshold := fs.String("threshold", "", "Reads required inside the window (default: 3)")
	preferFallback := fs.String("prefer-fallback", "", "Always use the software decoder (default: false)")
	pollInterval := fs.String("poll-interval", "", "Frame poll interval (default: 100ms)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Data: DataConfig{
			BasePath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Server: ServerConfig{
			Name:           getConfigValue(*serverName, "SERVER_NAME", "PureScan Server"),
			Port:           getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			AllowedOrigins: splitList(getConfigValue(*allowedOrigins, "ALLOWED_ORIGINS", "*")),
			RateLimit:      getIntConfigValue(*rateLimit, "SERVER_RATE_LIMIT", 600),
		},
		Catalog: CatalogConfig{
			ProvisionUnknown: getBoolConfigValue(*provisionUnknown, "PROVISION_UNKNOWN", true),
		},
		Recompute: RecomputeConfig{
			Workers:   getIntConfigValue(*recomputeWorkers, "RECOMPUTE_WORKERS", 4),
			QueueSize: getIntConfigValue(*recomputeQueue, "RECOMPUTE_QUEUE", 256),
		},
		Scanner: ScannerConfig{
			LookupURL:      getConfigValue(*lookupURL, "LOOKUP_URL", "http://localhost:8080"),
			WindowSize:     getIntConfigValue(*windowSize, "SCAN_WINDOW_SIZE", 6),
			Threshold:      getIntConfigValue(*threshold, "SCAN_THRESHOLD", 3),
			PreferFallback: getBoolConfigValue(*preferFallback, "SCAN_PREFER_FALLBACK", false),
		},
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"read timeout", getConfigValue(*readTimeout, "SERVER_READ_TIMEOUT", "15s"), &cfg.Server.ReadTimeout},
		{"write timeout", getConfigValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", "15s"), &cfg.Server.WriteTimeout},
		{"idle timeout", getConfigValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"), &cfg.Server.IdleTimeout},
		{"poll interval", getConfigValue(*pollInterval, "SCAN_POLL_INTERVAL", "100ms"), &cfg.Scanner.PollInterval},
		{"lookup retention", getConfigValue(*lookupRetention, "LOOKUP_RETENTION", "2160h"), &cfg.Catalog.LookupRetention},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data base path cannot be empty after expansion")
	}

	if c.Catalog.LookupRetention < 0 {
		return fmt.Errorf("lookup retention cannot be negative, got %s", c.Catalog.LookupRetention)
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative, got %d", c.Server.RateLimit)
	}

	if c.Recompute.Workers < 1 {
		return fmt.Errorf("recompute workers must be at least 1, got %d", c.Recompute.Workers)
	}
	if c.Recompute.QueueSize < 1 {
		return fmt.Errorf("recompute queue size must be at least 1, got %d", c.Recompute.QueueSize)
	}

	if c.Scanner.Threshold < 1 || c.Scanner.WindowSize < c.Scanner.Threshold {
		return fmt.Errorf("scan threshold %d must be between 1 and window size %d", c.Scanner.Threshold, c.Scanner.WindowSize)
	}

	if c.Scanner.LookupURL != "" {
		u, err := url.Parse(c.Scanner.LookupURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid lookup url: %q", c.Scanner.LookupURL)
		}
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath defaults the data path to ~/PureScan/data.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "PureScan", "data")

	expanded, err := expandPath(c.Data.BasePath, defaultPath)
	if err != nil {
		return err
	}
	c.Data.BasePath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Real environment variables win over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
