// Package config loads and hot-reloads the supervisor's configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full supervisor configuration.
type Config struct {
	Loop      LoopConfig      `mapstructure:"loop"`
	Reviewer  ReviewerConfig  `mapstructure:"reviewer"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Log       LogConfig       `mapstructure:"log"`
	StatusAPI StatusAPIConfig `mapstructure:"status_api"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

// LoopConfig controls the iteration engine.
type LoopConfig struct {
	MaxIterations         int           `mapstructure:"max_iterations"`
	InactivityTimeout     time.Duration `mapstructure:"inactivity_timeout"`
	SampleCapacity        int           `mapstructure:"sample_capacity"`
	PreviousSummaryWindow int           `mapstructure:"previous_summary_window"`
}

// ReviewerConfig controls the chat-completions reviewer client.
type ReviewerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseWait  time.Duration `mapstructure:"retry_base_wait"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	FallbackAction string        `mapstructure:"fallback_action"` // "continue" | "abort"
}

// WorkerConfig controls the transport that drives the worker subprocess.
type WorkerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

// LogConfig controls zap construction.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// StatusAPIConfig controls the gin/websocket status surface.
type StatusAPIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// TelegramConfig controls the optional outbound completion notifier.
type TelegramConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	BotToken string  `mapstructure:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// Load reads configuration the way the reference stack does: defaults,
// overlaid by a global ~/.agentwatch/config.yaml, overlaid by a project-local
// ./config.yaml, overlaid by AGENTWATCH_-prefixed environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".agentwatch")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	localPath := "./config.yaml"
	if _, err := os.Stat(localPath); err == nil {
		v2 := viper.New()
		v2.SetConfigFile(localPath)
		if err := v2.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(v2.AllSettings())
		}
	}

	v.SetEnvPrefix("AGENTWATCH")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("loop.max_iterations", 10)
	v.SetDefault("loop.inactivity_timeout", "30s")
	v.SetDefault("loop.sample_capacity", 100)
	v.SetDefault("loop.previous_summary_window", 5)

	v.SetDefault("reviewer.max_attempts", 3)
	v.SetDefault("reviewer.retry_base_wait", "1s")
	v.SetDefault("reviewer.request_timeout", "30s")
	v.SetDefault("reviewer.fallback_action", "continue")

	v.SetDefault("worker.connect_timeout", "10s")
	v.SetDefault("worker.idle_timeout", "90s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("status_api.enabled", false)
	v.SetDefault("status_api.host", "127.0.0.1")
	v.SetDefault("status_api.port", 7890)

	v.SetDefault("telegram.enabled", false)
}
