// Package config loads node configuration the way pkg/config does in the
// wider codebase: viper-backed YAML with an environment-specific overlay
// and godotenv for local .env files, unmarshalled into a typed struct
// instead of read field-by-field.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"modalnode/errkind"
)

// Config is the unified configuration for a modalnode instance.
type Config struct {
	Epoch struct {
		BlocksPerEpoch   uint64 `mapstructure:"blocks_per_epoch" json:"blocks_per_epoch" yaml:"blocks_per_epoch"`
		PromoteAfter     uint64 `mapstructure:"promote_after" json:"promote_after" yaml:"promote_after"`
		PurgeAfter       uint64 `mapstructure:"purge_after" json:"purge_after" yaml:"purge_after"`
		RollingCheckSize int    `mapstructure:"rolling_check_size" json:"rolling_check_size" yaml:"rolling_check_size"`
	} `mapstructure:"epoch" json:"epoch" yaml:"epoch"`

	Consensus struct {
		CommitteeSize      int           `mapstructure:"committee_size" json:"committee_size" yaml:"committee_size"`
		RoundTimeout       time.Duration `mapstructure:"round_timeout" json:"round_timeout" yaml:"round_timeout"`
		CheckpointInterval uint64        `mapstructure:"checkpoint_interval" json:"checkpoint_interval" yaml:"checkpoint_interval"`
	} `mapstructure:"consensus" json:"consensus" yaml:"consensus"`

	Reputation struct {
		WindowSize      int     `mapstructure:"window_size" json:"window_size" yaml:"window_size"`
		DecayFactor     float64 `mapstructure:"decay_factor" json:"decay_factor" yaml:"decay_factor"`
		MinScore        float64 `mapstructure:"min_score" json:"min_score" yaml:"min_score"`
		TargetLatencyMS int64   `mapstructure:"target_latency_ms" json:"target_latency_ms" yaml:"target_latency_ms"`
	} `mapstructure:"reputation" json:"reputation" yaml:"reputation"`

	Sync struct {
		MaxCheckpointsPerRequest int `mapstructure:"max_checkpoints_per_request" json:"max_checkpoints_per_request" yaml:"max_checkpoints_per_request"`
		RangeFetchBatchSize      int `mapstructure:"range_fetch_batch_size" json:"range_fetch_batch_size" yaml:"range_fetch_batch_size"`
	} `mapstructure:"sync" json:"sync" yaml:"sync"`

	VM struct {
		DefaultGasLimit uint64 `mapstructure:"default_gas_limit" json:"default_gas_limit" yaml:"default_gas_limit"`
	} `mapstructure:"vm" json:"vm" yaml:"vm"`

	Logging struct {
		Level string `mapstructure:"level" json:"level" yaml:"level"`
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// Defaults returns the configuration implied by the spec's design notes
// (40 blocks/epoch, promote at +2, purge at +12, window 20, decay 0.9,
// floor 0.1, 10 checkpoints per find_ancestor round).
func Defaults() Config {
	var c Config
	c.Epoch.BlocksPerEpoch = 40
	c.Epoch.PromoteAfter = 2
	c.Epoch.PurgeAfter = 12
	c.Epoch.RollingCheckSize = 160
	c.Consensus.CommitteeSize = 4
	c.Consensus.RoundTimeout = 5 * time.Second
	c.Consensus.CheckpointInterval = 100
	c.Reputation.WindowSize = 20
	c.Reputation.DecayFactor = 0.9
	c.Reputation.MinScore = 0.1
	c.Reputation.TargetLatencyMS = 2000
	c.Sync.MaxCheckpointsPerRequest = 10
	c.Sync.RangeFetchBatchSize = 64
	c.VM.DefaultGasLimit = 1_000_000
	c.Logging.Level = "info"
	return c
}

// Load reads configuration from configPaths (searched in order) merged over
// Defaults, then merges an environment-specific override file named env.yaml
// if env is non-empty, then applies environment-variable overrides. It
// mirrors pkg/config.Load's viper wiring.
func Load(env string, configPaths ...string) (*Config, error) {
	_ = godotenv.Load() // optional .env overlay; absence is not an error

	cfg := Defaults()

	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errkind.Wrap(errkind.Fatal, err, "load default config")
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errkind.Wrap(errkind.Fatal, err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	v.AutomaticEnv()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errkind.Wrap(errkind.Fatal, err, "unmarshal config")
	}
	return &cfg, nil
}

// WriteTemplate writes cfg to path as YAML, for seeding a fresh node's
// default.yaml (the file Load's first configPaths entry reads back). Uses
// yaml.v3 directly rather than viper, which has no matching "write config I
// built in memory" operation of its own.
func WriteTemplate(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, err, "marshal config template")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errkind.Wrap(errkind.Fatal, err, "write config template")
	}
	return nil
}
