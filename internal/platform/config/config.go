package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "7373"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultBackendTimeout    = 10 * time.Second
	defaultStorageDriver     = StorageDriverFile
	defaultStorageFilePath   = "register_state.json"
	defaultStorageCollection = "register_state"
	defaultEventsTopic       = "sale-completed"
	defaultIdempotencyHeader = "Idempotency-Key"
	defaultIdempotencyTTL    = 24 * time.Hour
)

// Storage drivers the agent can persist its state with.
const (
	StorageDriverFile      = "file"
	StorageDriverMemory    = "memory"
	StorageDriverFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Register    RegisterConfig
	Backend     BackendConfig
	Storage     StorageConfig
	Events      EventsConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RegisterConfig identifies this register within the fleet.
type RegisterConfig struct {
	ID string
}

// BackendConfig points the agent at the central sales backend.
type BackendConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// StorageConfig selects and parameterises the durable state store.
type StorageConfig struct {
	Driver    string
	FilePath  string
	Firestore FirestoreConfig
}

// FirestoreConfig stores database parameters for the firestore driver.
type FirestoreConfig struct {
	ProjectID       string
	Collection      string
	CredentialsFile string
	EmulatorHost    string
}

// EventsConfig controls the optional sale.completed event stream.
type EventsConfig struct {
	Enabled   bool
	ProjectID string
	Topic     string
}

// IdempotencyConfig controls checkout replay protection.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the agent configuration by combining defaults, .env
// overrides and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "REGISTER_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "REGISTER_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "REGISTER_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "REGISTER_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Register: RegisterConfig{
			ID: stringWithDefault(lookup, "REGISTER_ID", ""),
		},
		Backend: BackendConfig{
			BaseURL:  stringWithDefault(lookup, "REGISTER_BACKEND_BASE_URL", ""),
			APIToken: stringWithDefault(lookup, "REGISTER_BACKEND_API_TOKEN", ""),
			Timeout:  durationWithDefault(lookup, "REGISTER_BACKEND_TIMEOUT", defaultBackendTimeout),
		},
		Storage: StorageConfig{
			Driver:   strings.ToLower(stringWithDefault(lookup, "REGISTER_STORAGE_DRIVER", defaultStorageDriver)),
			FilePath: stringWithDefault(lookup, "REGISTER_STORAGE_FILE_PATH", defaultStorageFilePath),
			Firestore: FirestoreConfig{
				ProjectID:       stringWithDefault(lookup, "REGISTER_FIRESTORE_PROJECT_ID", ""),
				Collection:      stringWithDefault(lookup, "REGISTER_FIRESTORE_COLLECTION", defaultStorageCollection),
				CredentialsFile: stringWithDefault(lookup, "REGISTER_FIRESTORE_CREDENTIALS_FILE", ""),
				EmulatorHost:    stringWithDefault(lookup, "REGISTER_FIRESTORE_EMULATOR_HOST", ""),
			},
		},
		Events: EventsConfig{
			Enabled:   boolWithDefault(lookup, "REGISTER_EVENTS_ENABLED", false),
			ProjectID: stringWithDefault(lookup, "REGISTER_EVENTS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "REGISTER_EVENTS_TOPIC", defaultEventsTopic),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "REGISTER_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "REGISTER_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	// The firestore driver reuses the events project when its own is unset.
	if cfg.Storage.Firestore.ProjectID == "" {
		cfg.Storage.Firestore.ProjectID = cfg.Events.ProjectID
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Register.ID) == "" {
		missing = append(missing, "Register.ID")
	}
	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		missing = append(missing, "Backend.BaseURL")
	}

	switch cfg.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverFile:
		if strings.TrimSpace(cfg.Storage.FilePath) == "" {
			missing = append(missing, "Storage.FilePath")
		}
	case StorageDriverFirestore:
		if strings.TrimSpace(cfg.Storage.Firestore.ProjectID) == "" {
			missing = append(missing, "Storage.Firestore.ProjectID")
		}
	default:
		missing = append(missing, "Storage.Driver")
	}

	if cfg.Events.Enabled {
		if strings.TrimSpace(cfg.Events.ProjectID) == "" {
			missing = append(missing, "Events.ProjectID")
		}
		if strings.TrimSpace(cfg.Events.Topic) == "" {
			missing = append(missing, "Events.Topic")
		}
	}

	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
