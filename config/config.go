// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package config loads the orca-gnmi collector configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	gnmi "github.com/STORDIS/orca-nw-lib-sub000"
)

// Config is the root configuration structure.
// Values are loaded from YAML and can be overridden by environment variables.
type Config struct {
	GNMI         GNMIConfig         `yaml:"gnmi"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Devices      []DeviceConfig     `yaml:"devices"`
	Store        StoreConfig        `yaml:"store"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// GNMIConfig holds the connection defaults for every device.
type GNMIConfig struct {
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	ServerNameOverride string        `yaml:"server_name_override"`
}

// SubscriptionConfig tunes teardown and sync polling.
type SubscriptionConfig struct {
	UnsubscribeRetries  int           `yaml:"unsubscribe_retries"`
	UnsubscribeInterval time.Duration `yaml:"unsubscribe_interval"`
	SyncAttempts        int           `yaml:"sync_attempts"`
	SyncInterval        time.Duration `yaml:"sync_interval"`
}

// DeviceConfig is one managed device. Zero fields use the gnmi section.
type DeviceConfig struct {
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StoreConfig is the local device cache.
type StoreConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// InfluxDBConfig enables the InfluxDB telemetry sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     uint   `yaml:"batch_size"`
	FlushInterval uint   `yaml:"flush_interval"` // milliseconds
}

// MQTTConfig enables the MQTT telemetry sink.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// LoggingConfig selects level and format of the logrus output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load reads configuration from a YAML file, applies environment variable
// overrides and validates the result.
//
// Environment variables: ORCA_GNMI_USERNAME, ORCA_GNMI_PASSWORD,
// ORCA_STORE_PATH, ORCA_INFLUXDB_TOKEN, ORCA_MQTT_PASSWORD.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the library defaults filled in.
func Default() *Config {
	return &Config{
		GNMI: GNMIConfig{
			Port:               gnmi.DefaultPort,
			ConnectTimeout:     gnmi.DefaultConnectTimeout,
			RequestTimeout:     gnmi.DefaultRequestTimeout,
			ServerNameOverride: gnmi.DefaultServerNameOverride,
		},
		Subscription: SubscriptionConfig{
			UnsubscribeRetries:  gnmi.DefaultUnsubscribeRetries,
			UnsubscribeInterval: gnmi.DefaultUnsubscribeInterval,
			SyncAttempts:        gnmi.DefaultSyncAttempts,
			SyncInterval:        gnmi.DefaultSyncInterval,
		},
		Store: StoreConfig{
			Path:    "./data/orca-gnmi.db",
			Timeout: time.Second,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "orca",
			BatchSize:     500,
			FlushInterval: 1000,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "orca-gnmi",
			TopicPrefix: "orca/telemetry",
			QoS:         1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORCA_GNMI_USERNAME"); v != "" {
		cfg.GNMI.Username = v
	}
	if v := os.Getenv("ORCA_GNMI_PASSWORD"); v != "" {
		cfg.GNMI.Password = v
	}
	if v := os.Getenv("ORCA_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ORCA_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("ORCA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.GNMI.Port < 1 || c.GNMI.Port > 65535 {
		errs = append(errs, "gnmi.port must be between 1 and 65535")
	}
	if c.GNMI.Username == "" {
		errs = append(errs, "gnmi.username is required (set ORCA_GNMI_USERNAME)")
	}
	if c.GNMI.ConnectTimeout <= 0 {
		errs = append(errs, "gnmi.connect_timeout must be positive")
	}
	if c.GNMI.RequestTimeout <= 0 {
		errs = append(errs, "gnmi.request_timeout must be positive")
	}

	if c.Subscription.UnsubscribeRetries < 1 {
		errs = append(errs, "subscription.unsubscribe_retries must be at least 1")
	}
	if c.Subscription.SyncAttempts < 1 {
		errs = append(errs, "subscription.sync_attempts must be at least 1")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if net.ParseIP(d.Address) == nil {
			errs = append(errs, fmt.Sprintf("devices[%d].address %q is not an IP address", i, d.Address))
			continue
		}
		if seen[d.Address] {
			errs = append(errs, fmt.Sprintf("devices[%d].address %q is listed twice", i, d.Address))
		}
		seen[d.Address] = true
		if d.Port < 0 || d.Port > 65535 {
			errs = append(errs, fmt.Sprintf("devices[%d].port must be between 1 and 65535", i))
		}
	}

	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set ORCA_INFLUXDB_TOKEN)")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DefaultEndpoint returns the gnmi section as a library endpoint.
func (c *Config) DefaultEndpoint() gnmi.Endpoint {
	return gnmi.Endpoint{
		Port:               c.GNMI.Port,
		Username:           c.GNMI.Username,
		Password:           c.GNMI.Password,
		ConnectTimeout:     c.GNMI.ConnectTimeout,
		RequestTimeout:     c.GNMI.RequestTimeout,
		ServerNameOverride: c.GNMI.ServerNameOverride,
	}
}

// RegistryOptions returns the registry options for the configured devices.
func (c *Config) RegistryOptions() []gnmi.RegistryOption {
	opts := []gnmi.RegistryOption{gnmi.WithDefaultEndpoint(c.DefaultEndpoint())}
	for _, d := range c.Devices {
		opts = append(opts, gnmi.WithEndpoint(gnmi.Endpoint{
			Address:  d.Address,
			Port:     d.Port,
			Username: d.Username,
			Password: d.Password,
		}))
	}
	return opts
}

// ManagerOptions returns the subscription manager options.
func (c *Config) ManagerOptions() []gnmi.ManagerOption {
	return []gnmi.ManagerOption{
		gnmi.UnsubscribeRetries(c.Subscription.UnsubscribeRetries),
		gnmi.UnsubscribeInterval(c.Subscription.UnsubscribeInterval),
		gnmi.SyncAttempts(c.Subscription.SyncAttempts),
		gnmi.SyncInterval(c.Subscription.SyncInterval),
	}
}

// DeviceAddresses returns the configured device IPs in file order.
func (c *Config) DeviceAddresses() []string {
	ips := make([]string, 0, len(c.Devices))
	for _, d := range c.Devices {
		ips = append(ips, d.Address)
	}
	return ips
}
