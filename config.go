// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blesensor // import "sbinet.org/x/blesensor"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration of the acquisition tool.
type Config struct {
	Device   Target        `yaml:"device"`
	Channel  string        `yaml:"channel"`
	Duration time.Duration `yaml:"duration"`
	Queue    int           `yaml:"queue,omitempty"`

	Backend string `yaml:"backend"`       // BLE stack: "tinygo" or "hci"
	HCI     int    `yaml:"hci,omitempty"` // HCI device index, for the "hci" backend

	Store StoreConfig `yaml:"store"`
}

// StoreConfig describes where readings are persisted.
type StoreConfig struct {
	Kind string `yaml:"kind"` // "sqlite" or "bolt"
	Path string `yaml:"path"`
}

// DefaultConfig returns the configuration matching the sensor firmware.
func DefaultConfig() Config {
	return Config{
		Device:   Target{Name: DefaultName},
		Channel:  DefaultChannel,
		Duration: 5 * time.Second,
		Backend:  "tinygo",
		HCI:      -1,
		Store: StoreConfig{
			Kind: "sqlite",
			Path: "sensor.db",
		},
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig.
func LoadConfig(fname string) (Config, error) {
	f, err := os.Open(fname)
	if err != nil {
		return Config{}, fmt.Errorf("could not open config file: %w", err)
	}
	defer f.Close()

	cfg, err := ReadConfig(f)
	if err != nil {
		return cfg, fmt.Errorf("could not load config %q: %w", fname, err)
	}
	return cfg, nil
}

// ReadConfig decodes a YAML configuration on top of DefaultConfig.
func ReadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("could not decode YAML config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (cfg Config) Validate() error {
	err := cfg.Session().validate()
	if err != nil {
		return err
	}
	switch cfg.Backend {
	case "tinygo", "hci":
	default:
		return fmt.Errorf("blesensor: unknown BLE backend %q", cfg.Backend)
	}
	switch cfg.Store.Kind {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("blesensor: unknown store kind %q", cfg.Store.Kind)
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("blesensor: missing store path")
	}
	return nil
}

// Session returns the session part of the configuration.
func (cfg Config) Session() SessionConfig {
	return SessionConfig{
		Target:   cfg.Device,
		Channel:  cfg.Channel,
		Duration: cfg.Duration,
		Queue:    cfg.Queue,
	}
}
