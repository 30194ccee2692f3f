package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:       AppConfig{Environment: "development"},
		Logger:    LoggerConfig{Level: "info"},
		Data:      DataConfig{BasePath: "/some/path"},
		Recompute: RecomputeConfig{Workers: 2, QueueSize: 16},
		Scanner:   ScannerConfig{LookupURL: "http://localhost:8080", WindowSize: 6, Threshold: 3},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_AllEnvironments(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"test", false},
		{"", false},
		{"DEVELOPMENT", false}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := validConfig()
			cfg.App.Environment = tt.env

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_AllLogLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"debug", true},
		{"info", true},
		{"warn", true},
		{"error", true},
		{"DEBUG", true},  // case insensitive
		{"trace", false}, // not supported
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logger.Level = tt.level

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_EmptyDataPath(t *testing.T) {
	cfg := validConfig()
	cfg.Data.BasePath = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data base path cannot be empty")
}

func TestValidate_ScannerWindow(t *testing.T) {
	tests := []struct {
		name      string
		window    int
		threshold int
		valid     bool
	}{
		{"defaults", 6, 3, true},
		{"threshold equals window", 3, 3, true},
		{"threshold above window", 2, 3, false},
		{"zero threshold", 6, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Scanner.WindowSize = tt.window
			cfg.Scanner.Threshold = tt.threshold

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_Recompute(t *testing.T) {
	cfg := validConfig()
	cfg.Recompute.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Recompute.QueueSize = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RateLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Server.RateLimit = -1
	assert.Error(t, cfg.Validate())
}

func TestValidate_LookupURL(t *testing.T) {
	cfg := validConfig()
	cfg.Scanner.LookupURL = "not a url"
	assert.Error(t, cfg.Validate())
}

func TestExpandDataPath_EmptyUsesDefault(t *testing.T) {
	cfg := &Config{}

	require.NoError(t, cfg.expandDataPath())

	homeDir, _ := os.UserHomeDir() //nolint:errcheck // Test setup
	assert.Equal(t, filepath.Join(homeDir, "PureScan", "data"), cfg.Data.BasePath)
}

func TestExpandDataPath_TildeExpansion(t *testing.T) {
	cfg := &Config{Data: DataConfig{BasePath: "~/my-data"}}

	require.NoError(t, cfg.expandDataPath())

	homeDir, _ := os.UserHomeDir() //nolint:errcheck // Test setup
	assert.Equal(t, filepath.Join(homeDir, "my-data"), cfg.Data.BasePath)
}

func TestExpandDataPath_RelativePath(t *testing.T) {
	cfg := &Config{Data: DataConfig{BasePath: "relative/path"}}

	require.NoError(t, cfg.expandDataPath())

	assert.True(t, filepath.IsAbs(cfg.Data.BasePath))
	assert.Contains(t, cfg.Data.BasePath, "relative/path")
}

func TestDataConfig_Paths(t *testing.T) {
	d := DataConfig{BasePath: "/data"}

	assert.Equal(t, "/data/store", d.StorePath())
	assert.Equal(t, "/data/lookups.db", d.ScanLogPath())
}

func TestGetConfigValue_Precedence(t *testing.T) {
	assert.Equal(t, "flag-value", getConfigValue("flag-value", "ENV_KEY", "default-value"))

	t.Setenv("TEST_ENV_KEY", "env-value")
	assert.Equal(t, "env-value", getConfigValue("", "TEST_ENV_KEY", "default-value"))

	assert.Equal(t, "default-value", getConfigValue("", "NONEXISTENT_KEY", "default-value"))
}

func TestGetBoolConfigValue(t *testing.T) {
	assert.True(t, getBoolConfigValue("yes", "UNUSED", false))
	assert.True(t, getBoolConfigValue("1", "UNUSED", false))
	assert.False(t, getBoolConfigValue("false", "UNUSED", true))
	assert.True(t, getBoolConfigValue("", "UNSET_BOOL_KEY", true))
}

func TestGetIntConfigValue_InvalidFallsBack(t *testing.T) {
	assert.Equal(t, 4, getIntConfigValue("four", "UNUSED", 4))
	assert.Equal(t, 8, getIntConfigValue("8", "UNUSED", 4))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, splitList(" http://a, ,http://b "))
	assert.Nil(t, splitList(""))
}

func TestLoad_FlagsAndDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	dir := t.TempDir()

	cfg, err := Load(fs, []string{
		"-data-path", dir,
		"-env-file", filepath.Join(dir, "missing.env"),
		"-provision-unknown", "false",
		"-recompute-workers", "2",
		"-poll-interval", "250ms",
	})
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Data.BasePath)
	assert.False(t, cfg.Catalog.ProvisionUnknown)
	assert.Equal(t, 2, cfg.Recompute.Workers)
	assert.Equal(t, 256, cfg.Recompute.QueueSize)
	assert.Equal(t, 6, cfg.Scanner.WindowSize)
	assert.Equal(t, 3, cfg.Scanner.Threshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Scanner.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 600, cfg.Server.RateLimit)
	assert.Equal(t, 90*24*time.Hour, cfg.Catalog.LookupRetention)
}

func TestLoad_InvalidDuration(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	dir := t.TempDir()

	_, err := Load(fs, []string{"-data-path", dir, "-read-timeout", "soon", "-env-file", filepath.Join(dir, "none")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid read timeout")
}

func TestLoadEnvFile_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	content := `# Test env file
PS_TEST_ENV=staging
PS_TEST_LEVEL=debug
# Comment line
PS_TEST_QUOTED="some value"
PS_TEST_SINGLE='another value'
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	for _, k := range []string{"PS_TEST_ENV", "PS_TEST_LEVEL", "PS_TEST_QUOTED", "PS_TEST_SINGLE"} {
		t.Setenv(k, "")
	}

	require.NoError(t, loadEnvFile(envFile))

	assert.Equal(t, "staging", os.Getenv("PS_TEST_ENV"))
	assert.Equal(t, "debug", os.Getenv("PS_TEST_LEVEL"))
	assert.Equal(t, "some value", os.Getenv("PS_TEST_QUOTED"))
	assert.Equal(t, "another value", os.Getenv("PS_TEST_SINGLE"))
}

func TestLoadEnvFile_InvalidFormat(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	content := `VALID_KEY=valid_value
INVALID LINE WITHOUT EQUALS
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	err := loadEnvFile(envFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadEnvFile_NonExistentFile(t *testing.T) {
	assert.Error(t, loadEnvFile("/nonexistent/file/.env"))
}

func TestLoadEnvFile_ExistingEnvVarsNotOverwritten(t *testing.T) {
	t.Setenv("PS_TEST_VAR", "original-value")

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`PS_TEST_VAR=new-value`), 0o644))

	require.NoError(t, loadEnvFile(envFile))

	assert.Equal(t, "original-value", os.Getenv("PS_TEST_VAR"))
}
