// Package config loads schedver configuration from YAML with environment
// overrides.
//
// Precedence, lowest first: built-in defaults, the YAML file, SCHEDVER_*
// environment variables. The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// MaxConfigFileSize bounds the YAML file we are willing to parse
const MaxConfigFileSize = 1024 * 1024

var validate = validator.New()

// Config is the root configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Engine  EngineConfig  `yaml:"engine"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the gRPC and observability listeners
type ServerConfig struct {
	GrpcPort        int           `yaml:"grpc_port" validate:"min=1,max=65535"`
	MetricsPort     int           `yaml:"metrics_port" validate:"min=0,max=65535,nefield=GrpcPort"` // 0 disables
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
	RequestRate     float64       `yaml:"request_rate" validate:"min=0"`                            // requests per second, 0 disables
	RequestBurst    int           `yaml:"request_burst" validate:"required_with=RequestRate,min=0"` // a zero burst would reject every request
}

// StorageConfig selects and tunes the persistence backend
type StorageConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=memory badger sqlite"`
	Path       string        `yaml:"path" validate:"required_unless=Backend memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"min=0"`
}

// EngineConfig tunes versioning behavior
type EngineConfig struct {
	HistoryLimit        int  `yaml:"history_limit" validate:"min=1,max=1000"`
	RefreshLockOnRelock bool `yaml:"refresh_lock_on_relock"`
	AutoCreateDocuments bool `yaml:"auto_create_documents"`
	ReconcileOnStart    bool `yaml:"reconcile_on_start"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
	Caller bool   `yaml:"caller"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			GrpcPort:        50051,
			MetricsPort:     9090,
			ShutdownTimeout: 10 * time.Second,
			RequestBurst:    50,
		},
		Storage: StorageConfig{
			Backend:    BackendBadger,
			Path:       "./data/schedver",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Engine: EngineConfig{
			HistoryLimit:        10,
			RefreshLockOnRelock: true,
			ReconcileOnStart:    true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (optional when empty), applies
// environment overrides and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) readFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays SCHEDVER_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		"SCHEDVER_GRPC_PORT":     &c.Server.GrpcPort,
		"SCHEDVER_METRICS_PORT":  &c.Server.MetricsPort,
		"SCHEDVER_HISTORY_LIMIT": &c.Engine.HistoryLimit,
	}
	floats := map[string]*float64{
		"SCHEDVER_REQUEST_RATE": &c.Server.RequestRate,
	}
	strs := map[string]*string{
		"SCHEDVER_STORAGE_BACKEND": &c.Storage.Backend,
		"SCHEDVER_STORAGE_PATH":    &c.Storage.Path,
		"SCHEDVER_LOG_LEVEL":       &c.Log.Level,
	}
	bools := map[string]*bool{
		"SCHEDVER_SYNC_WRITES":        &c.Storage.SyncWrites,
		"SCHEDVER_REFRESH_LOCK":       &c.Engine.RefreshLockOnRelock,
		"SCHEDVER_AUTO_CREATE":        &c.Engine.AutoCreateDocuments,
		"SCHEDVER_RECONCILE_ON_START": &c.Engine.ReconcileOnStart,
		"SCHEDVER_LOG_PRETTY":         &c.Log.Pretty,
	}

	for name, dst := range ints {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}
	for name, dst := range floats {
		if v, ok := lookup(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = f
		}
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	for name, dst := range bools {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
	}
	return nil
}
