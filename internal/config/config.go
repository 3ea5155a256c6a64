// Package config loads warden configuration from defaults, an optional YAML
// config file, WARDEN_* environment variables, and runtime overrides, in
// ascending precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "WARDEN"

// Config is the full warden runtime configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
	Spool   SpoolConfig   `mapstructure:"spool"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Models  ModelsConfig  `mapstructure:"models"`
	Limits  LimitsConfig  `mapstructure:"limits"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type StoreConfig struct {
	// Path is the local SQLite database; URL plus AuthToken select a remote
	// libsql deployment instead.
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type SpoolConfig struct {
	Dir string `mapstructure:"dir"`
}

type WorkerConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

type ModelsConfig struct {
	// File points at a YAML allow-list document; when set it overrides
	// Allowed and Default.
	File    string   `mapstructure:"file"`
	Allowed []string `mapstructure:"allowed"`
	Default string   `mapstructure:"default"`
}

type LimitsConfig struct {
	PerParent       int           `mapstructure:"per_parent"`
	Global          int           `mapstructure:"global"`
	MaxTimeout      time.Duration `mapstructure:"max_timeout"`
	KillGrace       time.Duration `mapstructure:"kill_grace"`
	OutputByteCap   int           `mapstructure:"output_byte_cap"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	CleanupMaxAge   time.Duration `mapstructure:"cleanup_max_age"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("store.path", defaultDataPath("jobs.db"))
	v.SetDefault("spool.dir", defaultDataPath("spool"))

	v.SetDefault("worker.command", "agent-runner")
	v.SetDefault("worker.args", []string{"--model", "{model}", "--prompt", "{prompt}"})

	v.SetDefault("models.default", "")
	v.SetDefault("models.allowed", []string{})

	v.SetDefault("limits.per_parent", 4)
	v.SetDefault("limits.global", 16)
	v.SetDefault("limits.max_timeout", "1h")
	v.SetDefault("limits.kill_grace", "5s")
	v.SetDefault("limits.output_byte_cap", 64*1024)
	v.SetDefault("limits.sweep_interval", "2s")
	v.SetDefault("limits.cleanup_interval", "15m")
	v.SetDefault("limits.cleanup_max_age", "168h")
}

// defaultDataPath places state under ~/.warden, falling back to the working
// directory when the home directory cannot be resolved.
func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".warden", name)
	}
	return filepath.Join(home, ".warden", name)
}

// Load builds a Config. Optional override maps take precedence over
// environment variables, which take precedence over the config file and
// defaults.
func Load(configFile string, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("warden")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultDataPath(""))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	for _, override := range overrides {
		if err := v.MergeConfigMap(override); err != nil {
			return nil, fmt.Errorf("merge overrides: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Models.File != "" {
		if err := cfg.loadModelsFile(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// modelsDocument is the YAML shape of a model allow-list file:
//
//	default: sonnet
//	allowed:
//	  - sonnet
//	  - haiku
type modelsDocument struct {
	Default string   `yaml:"default"`
	Allowed []string `yaml:"allowed"`
}

func (c *Config) loadModelsFile() error {
	data, err := os.ReadFile(c.Models.File)
	if err != nil {
		return fmt.Errorf("read models file: %w", err)
	}

	var doc modelsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse models file %s: %w", c.Models.File, err)
	}
	if len(doc.Allowed) == 0 {
		return fmt.Errorf("models file %s lists no allowed models", c.Models.File)
	}

	c.Models.Allowed = doc.Allowed
	if doc.Default != "" {
		c.Models.Default = doc.Default
	}
	return nil
}
