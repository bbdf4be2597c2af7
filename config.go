package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"aura-monitor/command"
	"aura-monitor/dashboard"
	"aura-monitor/geo"
	"aura-monitor/location"
	"aura-monitor/mapsync"
	"aura-monitor/mqtt"
	"aura-monitor/server"
	"aura-monitor/store"
	"aura-monitor/telemetry"
)

// Config общая конфигурация монитора
type Config struct {
	Backend struct {
		BaseURL string        `mapstructure:"base_url"`
		Token   string        `mapstructure:"token"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"backend"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Command   command.Config   `mapstructure:"command"`
	Location  struct {
		Source string                `mapstructure:"source"` // static, nmea или mqtt
		Static geo.Point             `mapstructure:"static"`
		Serial location.SerialConfig `mapstructure:"serial"`
	} `mapstructure:"location"`
	Dashboard dashboard.Config `mapstructure:"dashboard"`
	Map       mapsync.Config   `mapstructure:"map"`
	MQTT      mqtt.Config      `mapstructure:"mqtt"`
	Redis     store.Config     `mapstructure:"redis"`
	Server    server.Config    `mapstructure:"server"`
	Metrics   struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// defaultConfig собирает значения по умолчанию всех пакетов
func defaultConfig() Config {
	var config Config
	config.Telemetry = telemetry.DefaultConfig()
	config.Command = command.DefaultConfig()
	config.Location.Source = "nmea"
	config.Location.Serial = location.DefaultSerialConfig()
	config.Dashboard = dashboard.DefaultConfig()
	config.Map = mapsync.DefaultConfig()
	config.MQTT = mqtt.DefaultConfig()
	config.Redis = store.DefaultConfig()
	config.Server = server.DefaultConfig()
	config.Metrics.Enabled = true
	return config
}

// loadConfig читает .env, config.yaml и переменные окружения AURA_*.
// Отсутствие файла конфигурации не ошибка: остаются значения по умолчанию.
func loadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Println("No .env file loaded")
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("AURA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		logger.Println("Config file not found, using defaults")
	} else {
		logger.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	config := defaultConfig()
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.applyBackend()
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// bindEnv регистрирует ключи, которые часто задают только через окружение
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"backend.base_url",
		"backend.token",
		"location.source",
		"mqtt.enabled",
		"mqtt.broker",
		"mqtt.username",
		"mqtt.password",
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"server.addr",
	} {
		_ = v.BindEnv(key)
	}
}

// applyBackend переносит общий адрес бэкенда в опрос и команды
func (c *Config) applyBackend() {
	if c.Backend.BaseURL != "" {
		c.Telemetry.BaseURL = c.Backend.BaseURL
		c.Command.BaseURL = c.Backend.BaseURL
	}
	if c.Backend.Token != "" {
		c.Telemetry.Token = c.Backend.Token
		c.Command.Token = c.Backend.Token
	}
	if c.Backend.Timeout > 0 {
		c.Telemetry.Timeout = c.Backend.Timeout
		c.Command.Timeout = c.Backend.Timeout
	}
	c.Map.RadiusM = c.Dashboard.Thresholds.GeofenceRadiusM
}

func (c *Config) validate() error {
	switch c.Location.Source {
	case "static":
		if !c.Location.Static.Valid() {
			return fmt.Errorf("invalid static location %+v", c.Location.Static)
		}
	case "nmea":
	case "mqtt":
		if !c.MQTT.Enabled {
			return errors.New("location source mqtt requires mqtt.enabled")
		}
	default:
		return fmt.Errorf("unknown location source %q", c.Location.Source)
	}

	if c.Telemetry.Interval <= 0 {
		return fmt.Errorf("invalid telemetry interval %v", c.Telemetry.Interval)
	}
	return nil
}
