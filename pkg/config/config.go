package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jdgilhuly/go_credential_agent/pkg/llm"
)

// Config holds the credentialing service configuration.
type Config struct {
	LLM              LLMConfig     `yaml:"llm"`
	Data             DataConfig    `yaml:"data"`
	Storage          StorageConfig `yaml:"storage"`
	Audit            AuditConfig   `yaml:"audit"`
	Verify           VerifyConfig  `yaml:"verify"`
	Server           ServerConfig  `yaml:"server"`
	ReportsDir       string        `yaml:"reports_dir"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
}

// LLMConfig selects and tunes the LLM backend.
type LLMConfig struct {
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Region      string        `yaml:"region,omitempty"`
	WaveSize    int           `yaml:"wave_size"`
	MaxInFlight int           `yaml:"max_in_flight"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// DataConfig points at the provider and regulation files. Empty paths use
// the built-in sample data.
type DataConfig struct {
	ProvidersFile   string `yaml:"providers_file"`
	RegulationsFile string `yaml:"regulations_file"`
	PromptsDir      string `yaml:"prompts_dir,omitempty"`
}

// StorageConfig configures result persistence. An empty DBPath keeps results
// in memory.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// AuditConfig configures where audit sessions and events are written.
type AuditConfig struct {
	LogsDir string `yaml:"logs_dir"`
	DBPath  string `yaml:"db_path,omitempty"`
}

// VerifyConfig configures the external verification API. An empty URL uses
// the static verifier.
type VerifyConfig struct {
	URL       string `yaml:"url,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:       llm.DefaultModel,
			WaveSize:    llm.DefaultWaveSize,
			MaxInFlight: 0,
			CallTimeout: 60 * time.Second,
			MaxRetries:  3,
		},
		Storage:          StorageConfig{DBPath: "data/credentialing.db"},
		Audit:            AuditConfig{LogsDir: "logs/"},
		Server:           ServerConfig{Listen: ":8000"},
		ReportsDir:       "reports/",
		BatchConcurrency: 4,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads and parses a YAML config file at the given path. ${VAR}
// references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault loads config from the given path. If the file does not exist,
// it returns the default configuration. Other errors (e.g. parse failures)
// are still returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ResolveAPIKey reads the LLM API key from the environment variable named by
// llm.api_key_env. With no variable configured it returns "" and the adapter
// falls back to its vendor's conventional variable.
func (c *Config) ResolveAPIKey() (string, error) {
	return resolveEnv("llm", c.LLM.APIKeyEnv)
}

// ResolveVerifyKey reads the verification API key the same way.
func (c *Config) ResolveVerifyKey() (string, error) {
	return resolveEnv("verify", c.Verify.APIKeyEnv)
}

func resolveEnv(section, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	key := os.Getenv(name)
	if key == "" {
		return "", fmt.Errorf("environment variable %s for %s is not set", name, section)
	}
	return key, nil
}

// AdapterOptions returns the backend constructor settings.
func (c *Config) AdapterOptions() (llm.AdapterOptions, error) {
	key, err := c.ResolveAPIKey()
	if err != nil {
		return llm.AdapterOptions{}, err
	}
	return llm.AdapterOptions{
		APIKey:     key,
		BaseURL:    c.LLM.BaseURL,
		Region:     c.LLM.Region,
		MaxRetries: c.LLM.MaxRetries,
	}, nil
}

// ProviderOptions returns the llm.Provider options the config describes.
func (c *Config) ProviderOptions() ([]llm.Option, error) {
	ao, err := c.AdapterOptions()
	if err != nil {
		return nil, err
	}
	opts := []llm.Option{
		llm.WithAdapterOptions(ao),
		llm.WithWaveSize(c.LLM.WaveSize),
		llm.WithCallTimeout(c.LLM.CallTimeout),
	}
	if a := llm.NewAdmission(c.LLM.MaxInFlight); a != nil {
		opts = append(opts, llm.WithAdmission(a))
	}
	return opts, nil
}

// Logger builds the process logger from log_level and log_format.
func (c *Config) Logger() (*log.Logger, error) {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	l := log.New()
	l.SetLevel(level)
	switch c.LogFormat {
	case "json":
		l.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return l, nil
}

// Validate checks the config for required fields and returns a descriptive
// error if any are missing or invalid.
func (c *Config) Validate() error {
	var errs []error

	if _, err := llm.FamilyFor(c.LLM.Model); err != nil {
		errs = append(errs, fmt.Errorf("llm.model: %w", err))
	}
	if c.LLM.WaveSize < 0 {
		errs = append(errs, fmt.Errorf("llm.wave_size must be >= 0, got %d", c.LLM.WaveSize))
	}
	if c.LLM.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("llm.max_in_flight must be >= 0, got %d", c.LLM.MaxInFlight))
	}
	if c.LLM.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("llm.call_timeout must be >= 0, got %s", c.LLM.CallTimeout))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries must be >= 0, got %d", c.LLM.MaxRetries))
	}
	if c.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("batch_concurrency must be >= 1, got %d", c.BatchConcurrency))
	}
	if c.ReportsDir == "" {
		errs = append(errs, errors.New("reports_dir must not be empty"))
	}
	if c.Audit.LogsDir == "" {
		errs = append(errs, errors.New("audit.logs_dir must not be empty"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.Verify.APIKeyEnv != "" && c.Verify.URL == "" {
		errs = append(errs, errors.New("verify.api_key_env is set but verify.url is empty"))
	}

	return errors.Join(errs...)
}
