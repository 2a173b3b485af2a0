// Package config provides configuration loading for the docsync application.
// Settings are layered from defaults, an optional YAML file, and environment
// variables. The access token may also come from HashiCorp Vault or the OS keyring.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MyCarrier-DevOps/goLibMyCarrier/vault"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// Environment variable names.
const (
	// EnvConfig is the path to the YAML settings file.
	EnvConfig = "DOCSYNC_CONFIG"

	// EnvToken is the access token.
	EnvToken = "DOCSYNC_TOKEN"

	// EnvRemoteURL is the HTTPS URL of the remote repository.
	EnvRemoteURL = "DOCSYNC_REMOTE_URL"

	// EnvBranch is the tracked branch.
	EnvBranch = "DOCSYNC_BRANCH"

	// EnvAutoSync enables the startup sync of the run loop.
	EnvAutoSync = "DOCSYNC_AUTO_SYNC"

	// EnvPushInterval is the period between automatic pushes (Go duration syntax).
	EnvPushInterval = "DOCSYNC_PUSH_INTERVAL"

	// EnvEmbedded forces the embedded backend.
	EnvEmbedded = "DOCSYNC_EMBEDDED"

	// EnvLogLevel is the log level (debug, info, error).
	EnvLogLevel = "LOG_LEVEL"

	// EnvLogAppName is the application name for log context.
	EnvLogAppName = "LOG_APP_NAME"

	// EnvVaultTokenPath is the path in Vault KV where the access token is stored.
	// A "#key" suffix selects the key inside the secret.
	EnvVaultTokenPath = "VAULT_TOKEN_PATH"

	// EnvVaultTokenMount is the Vault KV mount point (defaults to "secret").
	EnvVaultTokenMount = "VAULT_TOKEN_MOUNT"
)

// Default values.
const (
	DefaultLogLevel        = "info"
	DefaultLogAppName      = "docsync"
	DefaultVaultTokenMount = "secret"
	DefaultSecretKey       = "token"
	DefaultDirName         = "docsync"
	DefaultFileName        = "config.yaml"
)

// Configuration errors.
var (
	// ErrSettingsFileNotFound indicates an explicitly requested settings file does not exist.
	ErrSettingsFileNotFound = errors.New("settings file not found")

	// ErrSettingsFileInvalid indicates the settings file is not valid YAML.
	ErrSettingsFileInvalid = errors.New("settings file is not valid YAML")

	// ErrInvalidSetting indicates a setting value could not be parsed or is out of range.
	ErrInvalidSetting = errors.New("invalid setting")

	// ErrVaultClientFailed indicates failure to create or authenticate with Vault.
	ErrVaultClientFailed = errors.New("failed to create Vault client")

	// ErrVaultSecretNotFound indicates the token was not found in Vault.
	ErrVaultSecretNotFound = errors.New("access token not found in Vault")
)

// VaultClient defines the interface for Vault operations.
// This interface allows for dependency injection and testing.
type VaultClient interface {
	// GetKVSecret retrieves a secret from Vault's KV v2 secrets engine.
	GetKVSecret(ctx context.Context, path, mount string) (map[string]interface{}, error)
}

// VaultClientFactory creates a VaultClient using AppRole authentication.
// This is the default factory used in production.
type VaultClientFactory func(ctx context.Context) (VaultClient, error)

// DefaultVaultClientFactory creates a VaultClient using goLibMyCarrier/vault with AppRole auth.
func DefaultVaultClientFactory(ctx context.Context) (VaultClient, error) {
	// Uses: VAULT_ADDRESS, VAULT_ROLE_ID, VAULT_SECRET_ID
	vaultConfig, err := vault.VaultLoadConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVaultClientFailed, err)
	}

	client, err := vault.CreateVaultClient(ctx, vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVaultClientFailed, err)
	}

	return client, nil
}

// Config holds all application configuration.
type Config struct {
	// Settings is what the controller and backends consume.
	Settings domain.Settings

	// Path is the settings file that was read, or empty when none was.
	Path string

	// LogLevel is the logging level (debug, info, error).
	LogLevel string

	// LogAppName is the application name for log context.
	LogAppName string

	// TokenSourceErrors collects failures of the optional token sources.
	// They never fail Load; the caller decides whether to log them.
	TokenSourceErrors []error
}

// Options controls where Load looks for settings.
type Options struct {
	// Path is an explicit settings file. When empty, DOCSYNC_CONFIG and then
	// the default location are used.
	Path string

	// WorkDir is the synchronized directory.
	WorkDir string

	// Vault creates the Vault client. Nil uses DefaultVaultClientFactory.
	Vault VaultClientFactory

	// Keyring reads the token from the OS keyring. Nil disables the keyring.
	Keyring TokenStore
}

// Defaults returns the settings used when nothing else is configured.
func Defaults() domain.Settings {
	return domain.Settings{
		Branch:          domain.DefaultBranch,
		AutoSync:        true,
		PushInterval:    domain.DefaultPushInterval,
		SlowNoticeAfter: domain.DefaultSlowNoticeAfter,
		WatchDebounce:   domain.DefaultWatchDebounce,
	}
}

// Load loads configuration from the default locations.
func Load(workDir string) (*Config, error) {
	return LoadWithSources(context.Background(), Options{WorkDir: workDir, Keyring: NewKeyringStore()})
}

// LoadWithSources loads configuration using the provided options.
// This function enables dependency injection for testing.
func LoadWithSources(ctx context.Context, opts Options) (*Config, error) {
	cfg := &Config{Settings: Defaults()}

	path, explicit := settingsPath(opts.Path)
	if err := applyFile(&cfg.Settings, path, explicit); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else {
		cfg.Path = path
	}

	if err := applyEnv(&cfg.Settings); err != nil {
		return nil, err
	}

	cfg.Settings.WorkDir = opts.WorkDir
	cfg.LogLevel = envOr(EnvLogLevel, DefaultLogLevel)
	cfg.LogAppName = envOr(EnvLogAppName, DefaultLogAppName)

	if cfg.Settings.Token == "" {
		cfg.resolveToken(ctx, opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no operation could run with.
// A missing token or remote URL is left to the controller guard.
func (c *Config) Validate() error {
	s := c.Settings
	var errs []error
	if strings.TrimSpace(s.Branch) == "" {
		errs = append(errs, fmt.Errorf("%w: branch must not be empty", ErrInvalidSetting))
	}
	if s.PushInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: push interval must be positive, got %s", ErrInvalidSetting, s.PushInterval))
	}
	if s.WatchDebounce <= 0 {
		errs = append(errs, fmt.Errorf("%w: watch debounce must be positive, got %s", ErrInvalidSetting, s.WatchDebounce))
	}
	if s.SlowNoticeAfter < 0 {
		errs = append(errs, fmt.Errorf("%w: slow notice delay must not be negative", ErrInvalidSetting))
	}
	if s.RemoteURL != "" && !strings.HasPrefix(s.RemoteURL, "https://") && !strings.HasPrefix(s.RemoteURL, "http://") {
		errs = append(errs, fmt.Errorf("%w: remote URL must use HTTPS", ErrInvalidSetting))
	}
	return errors.Join(errs...)
}

// DefaultPath returns the settings file used when none is given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating user config directory: %w", err)
	}
	return filepath.Join(dir, DefaultDirName, DefaultFileName), nil
}

func settingsPath(explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env, true
	}
	path, err := DefaultPath()
	if err != nil {
		// No home directory: run on defaults and environment alone.
		return "", false
	}
	return path, false
}

func applyEnv(s *domain.Settings) error {
	if v := os.Getenv(EnvToken); v != "" {
		s.Token = v
	}
	if v := os.Getenv(EnvRemoteURL); v != "" {
		s.RemoteURL = v
	}
	if v := os.Getenv(EnvBranch); v != "" {
		s.Branch = v
	}

	var errs []error
	if v := os.Getenv(EnvAutoSync); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalidSetting, EnvAutoSync, v))
		}
		s.AutoSync = b
	}
	if v := os.Getenv(EnvEmbedded); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalidSetting, EnvEmbedded, v))
		}
		s.ForceEmbedded = b
	}
	if v := os.Getenv(EnvPushInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalidSetting, EnvPushInterval, v))
		}
		s.PushInterval = d
	}
	return errors.Join(errs...)
}

// resolveToken tries Vault, then the OS keyring.
func (c *Config) resolveToken(ctx context.Context, opts Options) {
	if vaultPath := os.Getenv(EnvVaultTokenPath); vaultPath != "" {
		token, err := loadTokenFromVault(ctx, opts.Vault, vaultPath)
		if err == nil {
			c.Settings.Token = token
			return
		}
		c.TokenSourceErrors = append(c.TokenSourceErrors, err)
	}

	if opts.Keyring != nil && c.Settings.RemoteURL != "" {
		token, err := opts.Keyring.Get(c.Settings.RemoteURL)
		switch {
		case err == nil:
			c.Settings.Token = token
		case !errors.Is(err, ErrTokenNotFound):
			c.TokenSourceErrors = append(c.TokenSourceErrors, err)
		}
	}
}

// loadTokenFromVault reads the access token from Vault KV v2.
func loadTokenFromVault(ctx context.Context, factory VaultClientFactory, fullPath string) (string, error) {
	if factory == nil {
		factory = DefaultVaultClientFactory
	}

	client, err := factory(ctx)
	if err != nil {
		return "", err
	}

	mount := envOr(EnvVaultTokenMount, DefaultVaultTokenMount)
	path, key := parseVaultPath(fullPath)

	secret, err := client.GetKVSecret(ctx, path, mount)
	if err != nil {
		return "", fmt.Errorf("%w at path %s: %w", ErrVaultSecretNotFound, path, err)
	}

	token, ok := secret[key].(string)
	if !ok || token == "" {
		return "", fmt.Errorf("%w: key %q missing at path %s", ErrVaultSecretNotFound, key, path)
	}
	return token, nil
}

// parseVaultPath splits "path#key" on the last '#'.
// Without a '#' the key is DefaultSecretKey.
func parseVaultPath(fullPath string) (string, string) {
	idx := strings.LastIndex(fullPath, "#")
	if idx < 0 {
		return fullPath, DefaultSecretKey
	}
	return fullPath[:idx], fullPath[idx+1:]
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
