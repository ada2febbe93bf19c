package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Backend.BaseURL != "http://localhost:3000" {
		t.Errorf("Unexpected backend URL: %s", cfg.Backend.BaseURL)
	}
	if cfg.Dial.CountryCode != "1" || cfg.Dial.Region != "US" {
		t.Errorf("Unexpected dial defaults: %+v", cfg.Dial)
	}
	if cfg.Guard.FreshClickWindow != 1500*time.Millisecond {
		t.Errorf("Unexpected fresh click window: %v", cfg.Guard.FreshClickWindow)
	}
	if cfg.MQTT.TopicPrefix != "callengine" {
		t.Errorf("Unexpected topic prefix: %s", cfg.MQTT.TopicPrefix)
	}
	if cfg.App.CallHistorySize != 50 {
		t.Errorf("Unexpected history size: %d", cfg.App.CallHistorySize)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("CALLENGINE_BACKEND_BASE_URL", "https://crm.example.com")
	t.Setenv("CALLENGINE_PROVIDER_WEBSOCKET_URL", "wss://voice.example.com/rtc")
	t.Setenv("CALLENGINE_DIAL_COUNTRY_CODE", "44")
	t.Setenv("CALLENGINE_GUARD_NUMBER_COOLDOWN", "30s")
	t.Setenv("CALLENGINE_MQTT_PORT", "8883")
	t.Setenv("CALLENGINE_APP_CALL_HISTORY_SIZE", "100")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Backend.BaseURL != "https://crm.example.com" {
		t.Errorf("Backend URL not read from environment: %s", cfg.Backend.BaseURL)
	}
	if cfg.Provider.WebsocketURL != "wss://voice.example.com/rtc" {
		t.Errorf("Provider URL not read from environment: %s", cfg.Provider.WebsocketURL)
	}
	if cfg.Dial.CountryCode != "44" {
		t.Errorf("Country code not read from environment: %s", cfg.Dial.CountryCode)
	}
	if cfg.Guard.NumberCooldown != 30*time.Second {
		t.Errorf("Number cooldown not read from environment: %v", cfg.Guard.NumberCooldown)
	}
	if cfg.MQTT.Port != 8883 {
		t.Errorf("MQTT port not read from environment: %d", cfg.MQTT.Port)
	}
	if cfg.App.CallHistorySize != 100 {
		t.Errorf("History size not read from environment: %d", cfg.App.CallHistorySize)
	}
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CALLENGINE_MQTT_PORT", "not-a-number")
	t.Setenv("CALLENGINE_APP_RECONNECT_DELAY", "not-a-duration")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.MQTT.Port != 1883 {
		t.Errorf("Expected default port for invalid value, got %d", cfg.MQTT.Port)
	}
	if cfg.App.ReconnectDelay != 10*time.Second {
		t.Errorf("Expected default delay for invalid value, got %v", cfg.App.ReconnectDelay)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, _ := LoadConfig()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty backend URL", func(c *Config) { c.Backend.BaseURL = "" }, true},
		{"non-http backend URL", func(c *Config) { c.Backend.BaseURL = "ftp://x" }, true},
		{"empty provider URL", func(c *Config) { c.Provider.WebsocketURL = "" }, true},
		{"non-ws provider URL", func(c *Config) { c.Provider.WebsocketURL = "http://x" }, true},
		{"empty country code", func(c *Config) { c.Dial.CountryCode = "" }, true},
		{"bad MQTT port", func(c *Config) { c.MQTT.Port = 70000 }, true},
		{"MQTT disabled skips broker checks", func(c *Config) { c.MQTT.Enabled = false; c.MQTT.Broker = "" }, false},
		{"bad API port", func(c *Config) { c.API.Port = 0 }, true},
		{"zero history size", func(c *Config) { c.App.CallHistorySize = 0 }, true},
		{"empty data dir", func(c *Config) { c.Database.DataDir = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenURL(t *testing.T) {
	cfg, _ := LoadConfig()
	cfg.Backend.BaseURL = "https://crm.example.com/"
	cfg.Provider.TokenPath = "/voice/token"

	if got := cfg.TokenURL(); got != "https://crm.example.com/voice/token" {
		t.Errorf("Unexpected token URL: %s", got)
	}
}
