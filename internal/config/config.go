package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingCredential means no provider API key was found anywhere.
var ErrMissingCredential = errors.New("missing required config: provider API key")

const (
	secretService = "fluxmcp"
	apiKeyAccount = "bfl_api_key"
	tokenAccount  = "server_token"
)

type Config struct {
	Provider ProviderConfig
	Poll     PollConfig
	Registry RegistryConfig
	Storage  StorageConfig
	Artifact ArtifactConfig
	Refresh  RefreshConfig
	Server   ServerConfig
	Log      LogConfig
}

type ProviderConfig struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	RateBurst int
}

type PollConfig struct {
	MaxAttempts    int
	Interval       time.Duration
	MaxInterval    time.Duration
	Multiplier     float64
	Jitter         bool
	RetryTransient bool
}

type RegistryConfig struct {
	Backend  string
	Capacity int
	TTL      time.Duration
	RedisURL string
}

type StorageConfig struct {
	DataDir string
}

type ArtifactConfig struct {
	MaxBytes    int
	DownloadDir string
}

type RefreshConfig struct {
	Interval time.Duration
}

type ServerConfig struct {
	HTTPAddr string
	Token    string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:   "https://api.bfl.ml",
			Timeout:   60 * time.Second,
			RateLimit: 10,
			RateBurst: 5,
		},
		Poll: PollConfig{
			MaxAttempts:    60,
			Interval:       2 * time.Second,
			MaxInterval:    10 * time.Second,
			Multiplier:     1,
			RetryTransient: true,
		},
		Registry: RegistryConfig{
			Backend:  "memory",
			Capacity: 1000,
			TTL:      24 * time.Hour,
			RedisURL: "redis://localhost:6379/0",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Artifact: ArtifactConfig{
			MaxBytes: 32 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.fluxmcp.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/fluxmcp/config.json
// and secrets fall back to $XDG_DATA_HOME/fluxmcp/secrets.json.
//
// Variables from .env never replace ones already set in the environment.
// Environment variables (BFL_API_KEY, FLUXMCP_*) override backend values on
// all platforms.
func Load() (Config, error) {
	loadDotEnv(".env")
	return loadWith(newPlatformBackend(), platformKeychain{})
}

// RequireAPIKey reports ErrMissingCredential when cfg carries no API key.
func RequireAPIKey(cfg Config) error {
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return fmt.Errorf("%w. Set it via environment variable BFL_API_KEY%s", ErrMissingCredential, apiKeyHint())
	}
	return nil
}

func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v. Ignoring it.\n", path, err)
	}
}

// keychain abstracts the platform secret store for testing.
type keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
	Delete(service, account string) error
}

func loadWith(st settingsStore, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyStored(&cfg, st); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Provider.APIKey == "" {
		if key, err := kc.Get(secretService, apiKeyAccount); err == nil && key != "" {
			cfg.Provider.APIKey = key
		}
	}
	if cfg.Server.Token == "" {
		if tok, err := kc.Get(secretService, tokenAccount); err == nil && tok != "" {
			cfg.Server.Token = tok
		}
	}

	return cfg, nil
}

// platformKeychain reads and writes the OS secret store.
type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

func (platformKeychain) Delete(service, account string) error {
	return keychainDelete(service, account)
}
