// Package config layers watercooler settings from defaults, an optional
// watercooler.yaml project file, and WC_* environment variables, in that
// order. Credentials never live in the project file; they come from the
// TOML credentials file or the environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ConfigFileName is the project config file, resolved against the threads
// directory's parent and the current directory.
const ConfigFileName = "watercooler"

// Config is the resolved runtime configuration.
type Config struct {
	ThreadsDir string `mapstructure:"threads_dir"`
	WorkDir    string `mapstructure:"work_dir"`

	Backend     string            `mapstructure:"backend"`
	BackendOpts map[string]string `mapstructure:"backend_opts"`

	MaxConcurrent int  `mapstructure:"max_concurrent"`
	Incremental   bool `mapstructure:"incremental"`

	Chunk struct {
		MaxTokens int `mapstructure:"max_tokens"`
		Overlap   int `mapstructure:"overlap"`
	} `mapstructure:"chunk"`

	LLM struct {
		Model        string `mapstructure:"model"`
		MaxTokens    int    `mapstructure:"max_tokens"`
		MinBodyChars int    `mapstructure:"min_body_chars"`
	} `mapstructure:"llm"`

	Embedding struct {
		BaseURL   string `mapstructure:"base_url"`
		Model     string `mapstructure:"model"`
		BatchSize int    `mapstructure:"batch_size"`
	} `mapstructure:"embedding"`

	Stages struct {
		Extract []string `mapstructure:"extract"`
		Dedupe  []string `mapstructure:"dedupe"`
		Build   []string `mapstructure:"build"`
	} `mapstructure:"stages"`
}

// Load resolves the configuration. dir is where the project file is looked
// for; empty means the current directory. A missing file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("WC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.WorkDir == "" && cfg.ThreadsDir != "" {
		cfg.WorkDir = filepath.Join(cfg.ThreadsDir, ".wc")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys need a default registered for AutomaticEnv to reach Unmarshal.
	v.SetDefault("threads_dir", "")
	v.SetDefault("work_dir", "")
	v.SetDefault("incremental", false)
	v.SetDefault("backend", "null")
	v.SetDefault("max_concurrent", 4)
	v.SetDefault("chunk.max_tokens", 512)
	v.SetDefault("chunk.overlap", 64)
	v.SetDefault("llm.min_body_chars", 280)
	v.SetDefault("embedding.batch_size", 16)
}

// Validate returns human-readable issues rather than failing on the first
// problem, so `wc status` can report all of them at once.
func (c *Config) Validate() []string {
	var issues []string
	if c.ThreadsDir == "" {
		issues = append(issues, "threads_dir: required")
	}
	if c.MaxConcurrent < 1 {
		issues = append(issues, fmt.Sprintf("max_concurrent: %d is invalid (must be >= 1)", c.MaxConcurrent))
	}
	if c.Chunk.MaxTokens < 1 {
		issues = append(issues, fmt.Sprintf("chunk.max_tokens: %d is invalid (must be >= 1)", c.Chunk.MaxTokens))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.MaxTokens {
		issues = append(issues, fmt.Sprintf("chunk.overlap: %d is invalid (must be in [0, max_tokens))", c.Chunk.Overlap))
	}
	if c.Embedding.BatchSize < 1 {
		issues = append(issues, fmt.Sprintf("embedding.batch_size: %d is invalid (must be >= 1)", c.Embedding.BatchSize))
	}
	if c.Embedding.BaseURL != "" && !strings.HasPrefix(c.Embedding.BaseURL, "http://") && !strings.HasPrefix(c.Embedding.BaseURL, "https://") {
		issues = append(issues, fmt.Sprintf("embedding.base_url: %q is not an http(s) URL", c.Embedding.BaseURL))
	}
	return issues
}
