package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration. Values come from
// defaults, an optional converge.yml, and CONVERGE_* environment
// overrides, in that order.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Backend      BackendConfig      `mapstructure:"backend"`
	Declarations DeclarationsConfig `mapstructure:"declarations"`
	Apply        ApplyConfig        `mapstructure:"apply"`
	Purge        PurgeConfig        `mapstructure:"purge"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
}

type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`

	// RequestRate caps outgoing requests per second; zero disables the
	// limiter.
	RequestRate float64 `mapstructure:"request_rate"`

	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type DeclarationsConfig struct {
	// Dir is the root of the local declaration layout: a kinds.yml
	// catalog plus one YAML document stream per kind.
	Dir string `mapstructure:"dir"`

	// GitURL switches the source to a read-only in-memory clone.
	GitURL    string `mapstructure:"git_url"`
	GitBranch string `mapstructure:"git_branch"`
	GitToken  string `mapstructure:"git_token"`
}

type ApplyConfig struct {
	BatchSize int  `mapstructure:"batch_size"`
	ChunkSize int  `mapstructure:"chunk_size"`
	FailFast  bool `mapstructure:"fail_fast"`
}

type PurgeConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

type PipelineConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// Load reads configuration from the given directory (or the working
// directory when empty). A missing converge.yml is not an error; the
// defaults and environment stand alone.
func Load(dir string) (Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("backend.base_url", "http://localhost:8080")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.request_rate", 0.0)
	v.SetDefault("backend.timeout_seconds", 30)
	v.SetDefault("declarations.dir", ".")
	v.SetDefault("declarations.git_url", "")
	v.SetDefault("declarations.git_branch", "main")
	v.SetDefault("declarations.git_token", "")
	v.SetDefault("apply.batch_size", 100)
	v.SetDefault("apply.chunk_size", 100)
	v.SetDefault("apply.fail_fast", false)
	v.SetDefault("purge.batch_size", 1000)
	v.SetDefault("pipeline.capacity", 10)

	v.SetConfigName("converge")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	} else {
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CONVERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading configuration: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding configuration: %w", err)
	}
	return cfg, nil
}
