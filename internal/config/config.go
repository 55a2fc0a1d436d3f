// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads ghostshift settings. Sources are layered by Viper:
// defaults, then ghostshift.yaml from the user, system and current
// directories, then an explicit --config file, then GHOSTSHIFT_* environment
// variables, then bound command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RuntimeOS is the platform used to pick the system config directory.
var RuntimeOS = runtime.GOOS

// Config is the full ghostshift configuration.
type Config struct {
	Database struct {
		Type string `mapstructure:"type" yaml:"type"`
		Dsn  string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`
	Encryption struct {
		// RootKey is a base64 32 byte key; it wins over Key.
		RootKey string `mapstructure:"root_key" yaml:"root_key"`
		Key     string `mapstructure:"key" yaml:"key"`
	} `mapstructure:"encryption" yaml:"encryption"`
	Queue struct {
		PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
		JobTimeout   time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
	} `mapstructure:"queue" yaml:"queue"`
	Upgrade struct {
		VersionRetention int `mapstructure:"version_retention" yaml:"version_retention"`
	} `mapstructure:"upgrade" yaml:"upgrade"`
	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"log" yaml:"log"`
	Metrics struct {
		Addr string `mapstructure:"addr" yaml:"addr"`
	} `mapstructure:"metrics" yaml:"metrics"`
	Language string `mapstructure:"language" yaml:"language"`
}

// Defaults returns the built-in settings.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":             "sqlite",
		"database.dsn":              "./ghostshift.db",
		"encryption.root_key":       "",
		"encryption.key":            "",
		"queue.poll_interval":       "2s",
		"queue.job_timeout":         "0s",
		"upgrade.version_retention": 700,
		"log.level":                 "info",
		"log.format":                "text",
		"metrics.addr":              "",
		"language":                  "en",
	}
}

// GetConfigPath returns the config file location for the user or, with
// system set, for the whole machine.
func GetConfigPath(system bool) (string, error) {
	var dir string
	if system {
		switch RuntimeOS {
		case "windows":
			dir = filepath.Join(os.Getenv("ProgramData"), "Ghostshift")
		default:
			dir = "/etc/ghostshift"
		}
	} else {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		dir = filepath.Join(base, "ghostshift")
	}
	return filepath.Join(dir, "ghostshift.yaml"), nil
}

// LoadConfig resolves configuration into T. A missing config file is not an
// error; an unreadable or malformed one is. cmd may be nil.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, path *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("ghostshift")
	v.SetConfigType("yaml")
	if path != nil && *path != "" {
		v.SetConfigFile(*path)
	}
	if p, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(p))
	}
	if p, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(p))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("ghostshift")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := bindFlags(v, cmd); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"db-type":      "database.type",
	"db-dsn":       "database.dsn",
	"lang":         "language",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"metrics-addr": "metrics.addr",
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			f = cmd.InheritedFlags().Lookup(name)
		}
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return v.BindPFlags(cmd.Flags())
}

// WriteConfigFile writes c as YAML to the user or system config path with
// owner-only permissions, since it may hold the master key.
func WriteConfigFile[T any](c *T, system bool) (string, error) {
	path, err := GetConfigPath(system)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
