package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Warehouse Warehouse `yaml:"warehouse"`
	LLM       LLM       `yaml:"llm"`
	Mappings  Mappings  `yaml:"mappings"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Schedule  Schedule  `yaml:"schedule"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
}

type Warehouse struct {
	Path   string `yaml:"path"`
	Source string `yaml:"source" validate:"required"`
}

type LLM struct {
	Provider       string `yaml:"provider" validate:"oneof=openai anthropic ollama"`
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url" validate:"omitempty,url"`
	MaxTokens      int    `yaml:"max_tokens" validate:"gte=0"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gte=0"`
	Fallback       *LLM   `yaml:"fallback" validate:"omitempty"`
}

type Mappings struct {
	Dir             string            `yaml:"dir"`
	DefaultVersions []string          `yaml:"default_versions" validate:"required,min=1,dive,required"`
	Files           map[string]string `yaml:"files" validate:"required,min=1,dive,keys,required,endkeys,required"`
}

type Pipeline struct {
	DeleteBeforeLoad   bool   `yaml:"delete_before_load"`
	CompletenessCheck  bool   `yaml:"completeness_check"`
	MatchMode          string `yaml:"match_mode" validate:"oneof=substring word"`
	PrimaryKeyFallback string `yaml:"primary_key_fallback" validate:"oneof=index error"`
	LineTrimChars      int    `yaml:"line_trim_chars" validate:"gte=-1"`
	MaxLinesInPrompt   int    `yaml:"max_lines_in_prompt" validate:"gte=0"`
}

type Schedule struct {
	Cron     string `yaml:"cron" validate:"required"`
	Timezone string `yaml:"timezone"`
}

type Server struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

var validate = validator.New()

var apiKeyEnvs = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// ConfigDir returns the XDG config directory for reviewdigest.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "reviewdigest")
}

// DataDir returns the XDG data directory for reviewdigest.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "reviewdigest")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/reviewdigest/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'reviewdigest init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies env overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return fromBytes(data)
}

// LoadDefault uses the embedded default config plus env overrides.
func LoadDefault() (*Config, error) {
	return fromBytes(DefaultConfigYAML)
}

func fromBytes(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Warehouse: Warehouse{Source: "Google"},
		LLM: LLM{
			Provider:       "openai",
			Model:          "gpt-5-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			TimeoutSeconds: 120,
		},
		Mappings: Mappings{Dir: "data"},
		Pipeline: Pipeline{
			DeleteBeforeLoad:   true,
			CompletenessCheck:  true,
			MatchMode:          "substring",
			PrimaryKeyFallback: "index",
			LineTrimChars:      10000,
		},
		Schedule: Schedule{Cron: "0 6 * * 5", Timezone: "UTC"},
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	return cfg, nil
}

// applyEnv overrides deployment knobs from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("LLM_PROVIDER"); ok && v != "" {
		if p := strings.ToLower(v); p != c.LLM.Provider {
			// The configured model and key belong to the old provider.
			c.LLM.Provider = p
			c.LLM.Model = ""
			c.LLM.APIKeyEnv = apiKeyEnvs[p]
			c.LLM.Fallback = nil
		}
	}
	if v, ok := lookup("LLM_MODEL"); ok && v != "" {
		c.LLM.Model = v
	}
	if v, ok := lookup("REVIEWDIGEST_DB"); ok && v != "" {
		c.Warehouse.Path = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup("DELETE_BEFORE_LOAD"); ok && v != "" {
		b, err := ParseBool(v)
		if err != nil {
			return fmt.Errorf("DELETE_BEFORE_LOAD: %w", err)
		}
		c.Pipeline.DeleteBeforeLoad = b
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, v := range c.Mappings.DefaultVersions {
		if _, ok := c.Mappings.Files[v]; !ok {
			return fmt.Errorf("invalid config: default version %q has no mapping file", v)
		}
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("invalid config: schedule timezone: %w", err)
		}
	}
	return nil
}

// APIKey returns the key read from the environment variable named by APIKeyEnv.
func (l LLM) APIKey() string {
	if l.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(l.APIKeyEnv)
}

// Timeout returns the request timeout.
func (l LLM) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// GetDataDir returns the directory holding the warehouse file.
func (c *Config) GetDataDir() string {
	if c.Warehouse.Path != "" {
		return filepath.Dir(c.Warehouse.Path)
	}
	return DataDir()
}

// DBPath returns the effective warehouse path.
func (c *Config) DBPath() string {
	if c.Warehouse.Path != "" {
		return c.Warehouse.Path
	}
	return filepath.Join(DataDir(), "reviewdigest.db")
}

// Location returns the schedule time zone, UTC when unset.
func (c *Config) Location() *time.Location {
	if c.Schedule.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseBool accepts the usual truthy and falsy spellings used in env vars.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off", "":
		return false, nil
	}
	return strconv.ParseBool(s)
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
