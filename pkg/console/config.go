package console

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/monitorpro/console/pkg/configutil"
	"github.com/monitorpro/console/pkg/geocode"
	"github.com/monitorpro/console/pkg/snapshot"
	"github.com/monitorpro/console/pkg/timeline"
	"github.com/monitorpro/console/pkg/transports/relay"
	"github.com/spf13/viper"
)

type Config struct {
	Relay       relay.Config    `mapstructure:"relay"`
	API         snapshot.Config `mapstructure:"api"`
	Geocode     geocode.Config  `mapstructure:"geocode"`
	Timeline    timeline.Config `mapstructure:"timeline"`
	Audio       AudioConfig     `mapstructure:"audio"`
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFormat   string          `mapstructure:"log_format"`
}

type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("relay.client_type", "parent")
	v.SetDefault("relay.reconnect_delay_ms", 3000)
	v.SetDefault("relay.recv_buffer", 512)
	v.SetDefault("api.retries", 2)
	v.SetDefault("api.timeout_ms", 15000)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "monitorpro-console")
	v.SetDefault("geocode.throttle_ms", 1000)
	v.SetDefault("geocode.cache_size", 1024)
	v.SetDefault("timeline.max_notifications", 50)
	v.SetDefault("timeline.max_recent", 5)
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	// Durations come in as integer milliseconds; mapstructure skips the
	// time.Duration fields, so set them here.
	cfg.Relay.ReconnectDelay = time.Duration(v.GetInt("relay.reconnect_delay_ms")) * time.Millisecond
	cfg.API.Timeout = time.Duration(v.GetInt("api.timeout_ms")) * time.Millisecond
	cfg.Geocode.Throttle = time.Duration(v.GetInt("geocode.throttle_ms")) * time.Millisecond

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Relay.URL, "relay.url"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.API.BaseURL, "api.base_url"); err != nil {
		return err
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
