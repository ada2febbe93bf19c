package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// CRM backend settings
	Backend BackendConfig `mapstructure:"backend"`

	// Voice provider settings
	Provider ProviderConfig `mapstructure:"provider"`

	// Dial plan settings
	Dial DialConfig `mapstructure:"dial"`

	// Anti-loop guard settings
	Guard GuardConfig `mapstructure:"guard"`

	// MQTT settings
	MQTT MQTTConfig `mapstructure:"mqtt"`

	// API settings
	API APIConfig `mapstructure:"api"`

	// Application settings
	App AppConfig `mapstructure:"app"`

	// Database settings
	Database DatabaseConfig `mapstructure:"database"`
}

// BackendConfig contains CRM backend connection settings
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ProviderConfig contains voice provider settings
type ProviderConfig struct {
	WebsocketURL    string        `mapstructure:"websocket_url"`
	TokenPath       string        `mapstructure:"token_path"` // relative to the backend base URL
	InputDeviceID   string        `mapstructure:"input_device_id"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// DialConfig contains dial plan settings for number normalization
type DialConfig struct {
	CountryCode string `mapstructure:"country_code"` // e.g. "1"
	TrunkDigit  string `mapstructure:"trunk_digit"`  // leading digit stripped from 11-digit numbers
	Region      string `mapstructure:"region"`       // ISO region for display formatting
}

// GuardConfig contains the anti-loop cooldown windows
type GuardConfig struct {
	FreshClickWindow   time.Duration `mapstructure:"fresh_click_window"`
	GlobalCooldown     time.Duration `mapstructure:"global_cooldown"`
	FreshClickCooldown time.Duration `mapstructure:"fresh_click_cooldown"`
	NumberCooldown     time.Duration `mapstructure:"number_cooldown"`
	TypingWindow       time.Duration `mapstructure:"typing_window"`
	HardBlockWindow    time.Duration `mapstructure:"hard_block_window"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

// APIConfig contains local HTTP API settings
type APIConfig struct {
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"` // shared secret required on every request, empty disables the check
}

// AppConfig contains general application settings
type AppConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	CallHistorySize  int           `mapstructure:"call_history_size"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	DirectoryRefresh time.Duration `mapstructure:"directory_refresh"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	DataDir string `mapstructure:"data_dir"` // Data directory path
}

// LoadConfig loads configuration from environment variables and defaults
func LoadConfig() (*Config, error) {
	config := &Config{
		Backend: BackendConfig{
			BaseURL: getEnvOrDefault("CALLENGINE_BACKEND_BASE_URL", "http://localhost:3000"),
		},
		Provider: ProviderConfig{
			WebsocketURL:    getEnvOrDefault("CALLENGINE_PROVIDER_WEBSOCKET_URL", "ws://localhost:4443/voice"),
			TokenPath:       getEnvOrDefault("CALLENGINE_PROVIDER_TOKEN_PATH", "/voice/token"),
			InputDeviceID:   getEnvOrDefault("CALLENGINE_PROVIDER_INPUT_DEVICE_ID", "default"),
			RefreshInterval: getEnvDurationOrDefault("CALLENGINE_PROVIDER_REFRESH_INTERVAL", 10*time.Minute),
		},
		Dial: DialConfig{
			CountryCode: getEnvOrDefault("CALLENGINE_DIAL_COUNTRY_CODE", "1"),
			TrunkDigit:  getEnvOrDefault("CALLENGINE_DIAL_TRUNK_DIGIT", "1"),
			Region:      getEnvOrDefault("CALLENGINE_DIAL_REGION", "US"),
		},
		Guard: GuardConfig{
			FreshClickWindow:   getEnvDurationOrDefault("CALLENGINE_GUARD_FRESH_CLICK_WINDOW", 1500*time.Millisecond),
			GlobalCooldown:     getEnvDurationOrDefault("CALLENGINE_GUARD_GLOBAL_COOLDOWN", 5*time.Second),
			FreshClickCooldown: getEnvDurationOrDefault("CALLENGINE_GUARD_FRESH_CLICK_COOLDOWN", 2*time.Second),
			NumberCooldown:     getEnvDurationOrDefault("CALLENGINE_GUARD_NUMBER_COOLDOWN", 10*time.Second),
			TypingWindow:       getEnvDurationOrDefault("CALLENGINE_GUARD_TYPING_WINDOW", 2*time.Second),
			HardBlockWindow:    getEnvDurationOrDefault("CALLENGINE_GUARD_HARD_BLOCK_WINDOW", 60*time.Second),
		},
		MQTT: MQTTConfig{
			Enabled:     getEnvBoolOrDefault("CALLENGINE_MQTT_ENABLED", true),
			Broker:      getEnvOrDefault("CALLENGINE_MQTT_BROKER", "localhost"),
			Port:        getEnvIntOrDefault("CALLENGINE_MQTT_PORT", 1883),
			Username:    getEnvOrDefault("CALLENGINE_MQTT_USERNAME", ""),
			Password:    getEnvOrDefault("CALLENGINE_MQTT_PASSWORD", ""),
			ClientID:    getEnvOrDefault("CALLENGINE_MQTT_CLIENT_ID", "crm-callengine"),
			TopicPrefix: getEnvOrDefault("CALLENGINE_MQTT_TOPIC_PREFIX", "callengine"),
			QoS:         byte(getEnvIntOrDefault("CALLENGINE_MQTT_QOS", 1)),
		},
		API: APIConfig{
			Port:   getEnvIntOrDefault("CALLENGINE_API_PORT", 8080),
			Secret: getEnvOrDefault("CALLENGINE_API_SECRET", ""),
		},
		App: AppConfig{
			LogLevel:         getEnvOrDefault("CALLENGINE_APP_LOG_LEVEL", "info"),
			CallHistorySize:  getEnvIntOrDefault("CALLENGINE_APP_CALL_HISTORY_SIZE", 50),
			ReconnectDelay:   getEnvDurationOrDefault("CALLENGINE_APP_RECONNECT_DELAY", 10*time.Second),
			DirectoryRefresh: getEnvDurationOrDefault("CALLENGINE_APP_DIRECTORY_REFRESH", 15*time.Minute),
		},
		Database: DatabaseConfig{
			DataDir: getEnvOrDefault("CALLENGINE_DATABASE_DATA_DIR", "./data"),
		},
	}

	return config, nil
}

// Helper functions for environment variable handling
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base URL cannot be empty")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend base URL must be an http(s) URL")
	}

	if c.Provider.WebsocketURL == "" {
		return fmt.Errorf("provider websocket URL cannot be empty")
	}
	if !strings.HasPrefix(c.Provider.WebsocketURL, "ws://") && !strings.HasPrefix(c.Provider.WebsocketURL, "wss://") {
		return fmt.Errorf("provider websocket URL must be a ws(s) URL")
	}

	if c.Dial.CountryCode == "" {
		return fmt.Errorf("dial country code cannot be empty")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("MQTT broker cannot be empty")
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			return fmt.Errorf("MQTT port must be between 1 and 65535")
		}
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("API port must be between 1 and 65535")
	}

	if c.App.CallHistorySize <= 0 {
		return fmt.Errorf("call history size must be greater than 0")
	}

	if c.Database.DataDir == "" {
		return fmt.Errorf("database data directory cannot be empty")
	}

	return nil
}

// TokenURL returns the absolute credential endpoint URL.
func (c *Config) TokenURL() string {
	return strings.TrimRight(c.Backend.BaseURL, "/") + c.Provider.TokenPath
}
