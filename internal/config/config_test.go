package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name:    "single receiver",
			envVars: map[string]string{"RELAY_RECEIVER_ADDRS": "10.0.0.1:8555"},
			wantErr: false,
		},
		{
			name: "custom config",
			envVars: map[string]string{
				"SERVICE_NAME":           "relay-test",
				"RELAY_RECEIVER_ADDRS":   " primary:8555 , backup:8555 ,",
				"RELAY_RETRY_QUEUE_SIZE": "10",
				"RELAY_REQUIRE_AUTH":     "true",
				"KAFKA_BROKERS":          "k1:9092,k2:9092",
			},
			wantErr: false,
		},
		{
			name:    "no receivers",
			envVars: map[string]string{},
			wantErr: true,
		},
		{
			name:    "receiver without port",
			envVars: map[string]string{"RELAY_RECEIVER_ADDRS": "primary"},
			wantErr: true,
		},
		{
			name:    "receiver with named port",
			envVars: map[string]string{"RELAY_RECEIVER_ADDRS": "primary:relay"},
			wantErr: true,
		},
		{
			name:    "duplicate receiver",
			envVars: map[string]string{"RELAY_RECEIVER_ADDRS": "a:1,a:1"},
			wantErr: true,
		},
		{
			name: "inverted retry delays",
			envVars: map[string]string{
				"RELAY_RECEIVER_ADDRS":   "a:1",
				"RELAY_RETRY_BASE_DELAY": "10s",
				"RELAY_RETRY_MAX_DELAY":  "1s",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RELAY_RECEIVER_ADDRS", "")
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if cfg.ServiceName == "" {
					t.Error("ServiceName should not be empty")
				}
				if len(cfg.ReceiverAddrs) == 0 {
					t.Error("ReceiverAddrs should not be empty")
				}
			}
		})
	}
}

func TestLoad_ListsAreTrimmed(t *testing.T) {
	t.Setenv("RELAY_RECEIVER_ADDRS", " primary:8555 , backup:8555 ,")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := []string{"primary:8555", "backup:8555"}; !reflect.DeepEqual(cfg.ReceiverAddrs, want) {
		t.Errorf("ReceiverAddrs = %q, want %q", cfg.ReceiverAddrs, want)
	}
	if want := []string{"k1:9092", "k2:9092"}; !reflect.DeepEqual(cfg.KafkaBrokers, want) {
		t.Errorf("KafkaBrokers = %q, want %q", cfg.KafkaBrokers, want)
	}
	if cfg.RedisAuthKey != "BetterHash:AuthorizedUsers" {
		t.Errorf("RedisAuthKey = %q", cfg.RedisAuthKey)
	}
}

func validConfig() *Config {
	return &Config{
		ServiceName:        "test",
		ReceiverAddrs:      []string{"127.0.0.1:8555", "[::1]:8555"},
		RetryQueueSize:     100,
		RetryBaseDelay:     time.Millisecond,
		RetryMaxDelay:      time.Second,
		OutboundBuffer:     16,
		MaxFrameSize:       1024,
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  time.Second,
	}
}

func TestConfigValidation(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Errorf("validate() should not fail for valid config: %v", err)
	}

	invalid := map[string]func(*Config){
		"empty service name": func(c *Config) { c.ServiceName = "" },
		"no receivers":       func(c *Config) { c.ReceiverAddrs = nil },
		"empty host":         func(c *Config) { c.ReceiverAddrs = []string{":8555"} },
		"port out of range":  func(c *Config) { c.ReceiverAddrs = []string{"h:70000"} },
		"zero queue":         func(c *Config) { c.RetryQueueSize = 0 },
		"zero buffer":        func(c *Config) { c.OutboundBuffer = 0 },
		"tiny frame size":    func(c *Config) { c.MaxFrameSize = 10 },
		"zero reconnect":     func(c *Config) { c.ReconnectBaseDelay = 0 },
		"auth without redis": func(c *Config) { c.RequireAuth = true; c.RedisURL = "" },
		"influx without interval": func(c *Config) {
			c.InfluxURL = "http://influx:8086"
			c.StatsInterval = 0
		},
	}

	for name, mutate := range invalid {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Errorf("validate() should fail")
			}
		})
	}
}

func TestValidateHostPort_NoResolution(t *testing.T) {
	// unresolvable names are accepted; only syntax is checked
	if err := validateHostPort("receiver.invalid:8555"); err != nil {
		t.Errorf("validateHostPort() = %v", err)
	}
	err := validateHostPort("receiver.invalid")
	if err == nil || !strings.Contains(err.Error(), "receiver.invalid") {
		t.Errorf("validateHostPort() = %v, want error naming the address", err)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "test_value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_DURATION", "30s")
	t.Setenv("TEST_BAD_INT", "forty-two")

	if got := getEnv("TEST_STRING", "default"); got != "test_value" {
		t.Errorf("getEnv() = %v, want %v", got, "test_value")
	}
	if got := getEnv("NONEXISTENT", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want %v", got, "default")
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %v, want %v", got, 42)
	}
	if got := getEnvInt("TEST_BAD_INT", 99); got != 99 {
		t.Errorf("getEnvInt() = %v, want fallback %v", got, 99)
	}
	if got := getEnvBool("TEST_BOOL", false); !got {
		t.Errorf("getEnvBool() = %v, want true", got)
	}
	if got := getEnvDuration("TEST_DURATION", 0); got != 30*time.Second {
		t.Errorf("getEnvDuration() = %v, want %v", got, 30*time.Second)
	}
	if got := getEnvSlice("NONEXISTENT", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("getEnvSlice() = %v, want default", got)
	}

	t.Setenv("TEST_SLICE", " , ")
	if got := getEnvSlice("TEST_SLICE", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("getEnvSlice() of blanks = %v, want default", got)
	}
}
