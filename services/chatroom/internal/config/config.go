package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"logLevel"`

	// Local backend. A postgres:// DSN shares rooms between instances;
	// anything else is a sqlite file.
	DatabaseDSN  string `yaml:"databaseDSN"`
	PollInterval string `yaml:"pollInterval"`

	AdminPassword string `yaml:"adminPassword"`
	SessionSecret string `yaml:"sessionSecret"`
	SessionTTL    string `yaml:"sessionTTL"`

	CORSOrigins    []string `yaml:"corsOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`

	AI      AIConfig     `yaml:"ai"`
	Exports ExportConfig `yaml:"exports"`
}

type AIConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"apiKey"`
	BaseURL  string `yaml:"baseURL"`
	Model    string `yaml:"model"`
	History  int    `yaml:"history"`
	Timeout  string `yaml:"timeout"`
}

// ExportConfig selects where exported rooms are archived: a MinIO bucket when
// Endpoint is set, otherwise Dir on disk.
type ExportConfig struct {
	Dir       string `yaml:"dir"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

func defaults() FileConfig {
	return FileConfig{
		Addr:         ":8080",
		LogLevel:     "info",
		DatabaseDSN:  "data/chatroom.db",
		PollInterval: "2s",
		SessionTTL:   "12h",
		AI: AIConfig{
			History: 10,
			Timeout: "20s",
		},
		Exports: ExportConfig{Dir: "data/exports"},
	}
}

// Load reads config from path (defaults to config.yaml). A missing file is
// not an error: defaults plus environment overrides are used instead.
func Load(path string) (FileConfig, error) {
	cfg := defaults()
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("CHATROOM_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("CHATROOM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHATROOM_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("CHATROOM_POLL_INTERVAL"); v != "" {
		cfg.PollInterval = v
	}
	if v := os.Getenv("CHATROOM_ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = v
	}
	if v := os.Getenv("CHATROOM_SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("CHATROOM_SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("CHATROOM_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("CHATROOM_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("CHATROOM_AI_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	if v := os.Getenv("CHATROOM_AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("CHATROOM_AI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("CHATROOM_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("CHATROOM_AI_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AI.History = n
		}
	}
	if v := os.Getenv("CHATROOM_EXPORTS_DIR"); v != "" {
		cfg.Exports.Dir = v
	}
	if v := os.Getenv("CHATROOM_EXPORTS_ENDPOINT"); v != "" {
		cfg.Exports.Endpoint = v
	}
	if v := os.Getenv("CHATROOM_EXPORTS_ACCESS_KEY"); v != "" {
		cfg.Exports.AccessKey = v
	}
	if v := os.Getenv("CHATROOM_EXPORTS_SECRET_KEY"); v != "" {
		cfg.Exports.SecretKey = v
	}
	if v := os.Getenv("CHATROOM_EXPORTS_BUCKET"); v != "" {
		cfg.Exports.Bucket = v
	}
	if v := os.Getenv("CHATROOM_EXPORTS_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Exports.UseSSL = b
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateConfig(cfg FileConfig) error {
	if cfg.Addr == "" {
		return errors.New("config: addr is required (set in config.yaml or CHATROOM_ADDR)")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: databaseDSN is required (set in config.yaml or CHATROOM_DATABASE_DSN)")
	}
	if _, err := time.ParseDuration(cfg.PollInterval); err != nil {
		return fmt.Errorf("config: pollInterval: %w", err)
	}
	if d, err := time.ParseDuration(cfg.SessionTTL); err != nil || d <= 0 {
		return fmt.Errorf("config: sessionTTL must be a positive duration, got %q", cfg.SessionTTL)
	}
	if cfg.AI.Timeout != "" {
		if _, err := time.ParseDuration(cfg.AI.Timeout); err != nil {
			return fmt.Errorf("config: ai.timeout: %w", err)
		}
	}
	switch strings.ToLower(cfg.AI.Provider) {
	case "", "gemini", "ollama", "openai", "openai-compat":
	default:
		return fmt.Errorf("config: unsupported ai.provider %q", cfg.AI.Provider)
	}
	if cfg.Exports.Endpoint != "" && cfg.Exports.Bucket == "" {
		return errors.New("config: exports.bucket is required when exports.endpoint is set")
	}
	if cfg.Exports.Endpoint == "" && cfg.Exports.Dir == "" {
		return errors.New("config: exports.dir or exports.endpoint is required")
	}
	return nil
}

// PollEvery is the local backend's change-poll interval; zero or negative
// disables polling.
func (c FileConfig) PollEvery() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	if d == 0 {
		return -1
	}
	return d
}

func (c FileConfig) SessionLifetime() time.Duration {
	d, _ := time.ParseDuration(c.SessionTTL)
	return d
}

func (c AIConfig) RequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}
