package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

//go:embed config.schema.json
var schemaJSON []byte

var (
	compiledSchema *jsonschema.Schema
	schemaOnce     sync.Once
	schemaErr      error
)

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("invalid config")

// Manager handles loading, updating and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	path      string
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
// defaultSavePath is used when save_path is empty.
func NewManager(cfgFile, defaultSavePath string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	if cfg.SavePath == "" {
		cfg.SavePath = defaultSavePath
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	for _, e := range DefaultEntries() {
		cm.v.SetDefault(e.Key, e.Value)
	}

	// Environment variables with QUIRE_ prefix, e.g. QUIRE_AUDIOBOOK_VOICE
	cm.v.SetEnvPrefix("QUIRE")
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
		cm.path = cfgFile
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.quire")
	}

	if err := cm.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	if used := cm.v.ConfigFileUsed(); used != "" {
		cm.path = used
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.APIEndpoints == nil {
		cfg.APIEndpoints = []string{}
	}
	return &cfg, nil
}

// Path returns the config file in use, or the one Save will create.
func (cm *Manager) Path() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.path
}

// Get returns a snapshot of the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.Clone()
}

// Apply validates cfg, makes it current and notifies subscribers.
// Jobs already running keep the snapshot they started with.
func (cm *Manager) Apply(cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	next := cfg.Clone()

	cm.mu.Lock()
	cm.config = next
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	cm.mu.Unlock()

	for _, fn := range callbacks {
		fn(next.Clone())
	}
	return nil
}

// Save writes the current configuration to the config file.
func (cm *Manager) Save() error {
	cm.mu.RLock()
	path := cm.path
	cfg := cm.config.Clone()
	cm.mu.RUnlock()

	if path == "" {
		return errors.New("no config file path configured")
	}
	return writeConfig(path, cfg)
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration from disk.
// Edits that fail validation are ignored.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}
		if cfg.SavePath == "" {
			cfg.SavePath = cm.Get().SavePath
		}
		_ = cm.Apply(cfg)
	})
	cm.v.WatchConfig()
}

// Validate checks cfg against the embedded JSON schema and cross-field rules.
func Validate(cfg *Config) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("config.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("config.schema.json")
	})
	if schemaErr != nil {
		return fmt.Errorf("failed to compile config schema: %w", schemaErr)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if cfg.MaxWaitTime < cfg.MinWaitTime {
		return fmt.Errorf("%w: max_wait_time (%d) is below min_wait_time (%d)", ErrInvalid, cfg.MaxWaitTime, cfg.MinWaitTime)
	}
	if !cfg.UseOfficialAPI && len(cfg.APIEndpoints) == 0 {
		return fmt.Errorf("%w: api_endpoints is empty and use_official_api is false", ErrInvalid)
	}
	if cfg.Template.Enabled && cfg.Template.Path == "" {
		return fmt.Errorf("%w: template.enabled requires template.path", ErrInvalid)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	return writeConfig(path, DefaultConfig())
}

func writeConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Quire configuration
# The speech API token uses ${ENV_VAR} syntax: export OPENAI_API_KEY=xxx

`)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmp, path)
}
