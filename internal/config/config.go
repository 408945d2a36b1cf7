package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM     LLMConfig
	Server  ServerConfig
	History HistoryConfig
	Log     LogConfig
}

// LLMConfig holds the chat-completion endpoint configuration
type LLMConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	TopP        float32 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// HistoryConfig holds the bounded history store configuration.
// ByteBudget is the hard cap on serialized history size; SoftTrimAt is the
// entry count that triggers a proactive retain-most-recent trim, and MinTrim
// is the floor the store falls back to under storage pressure.
type HistoryConfig struct {
	Path       string `mapstructure:"path"`
	ByteBudget int64  `mapstructure:"byte_budget"`
	SoftTrimAt int    `mapstructure:"soft_trim_at"`
	MinTrim    int    `mapstructure:"min_trim"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load loads the configuration from config.yaml, or from the file named by
// the CONFIG_PATH environment variable when set.
func Load() (*Config, error) {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("history.path", "history.db")
	viper.SetDefault("history.byte_budget", 4*1024*1024)
	viper.SetDefault("history.soft_trim_at", 30)
	viper.SetDefault("history.min_trim", 5)
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
