// Package config is used to load the configuration file
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/maxgio92/sigmigrate"
	"github.com/maxgio92/sigmigrate/internal/report"
	"github.com/spf13/viper"
)

type paths struct {
	Old        string `json:"old" mapstructure:"old"`
	New        string `json:"new" mapstructure:"new"`
	Offsets    string `json:"offsets" mapstructure:"offsets"`
	Output     string `json:"output" mapstructure:"output"`
	Signatures string `json:"signatures" mapstructure:"signatures"`
}

// Config is the configuration struct
type Config struct {
	Migrate sigmigrate.Config `json:"migrate" mapstructure:"migrate"`
	Paths   paths             `json:"paths" mapstructure:"paths"`
	// Format overrides migrate.compact when set.
	Format string `json:"format" mapstructure:"format"`
}

// Dir returns the directory holding the default config file.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get user home directory: %v", err)
	}
	return filepath.Join(home, ".config", "sigmigrate"), nil
}

// SetDefaults registers the default of every migrate.* key on v.
func SetDefaults(v *viper.Viper) {
	d := sigmigrate.DefaultConfig()
	v.SetDefault("migrate.window-length", d.WindowLength)
	v.SetDefault("migrate.reference-hex-length", d.ReferenceHexLength)
	v.SetDefault("migrate.max-iterations", d.MaxIterations)
	v.SetDefault("migrate.first-n", d.FirstN)
	v.SetDefault("migrate.scanner", d.Scanner)
	v.SetDefault("migrate.arch", string(d.Arch))
}

func (c *Config) verify() error {
	if c.Migrate.Arch != "" {
		arch, err := sigmigrate.ParseArch(string(c.Migrate.Arch))
		if err != nil {
			return fmt.Errorf("config: %v", err)
		}
		c.Migrate.Arch = arch
	}

	if c.Format == "" {
		c.Format = report.FormatVerbose
		if c.Migrate.OutputFormatIsCompact {
			c.Format = report.FormatCompact
		}
	}
	if _, err := report.New(c.Format); err != nil {
		return fmt.Errorf("config: %v", err)
	}
	c.Migrate.OutputFormatIsCompact = c.Format == report.FormatCompact

	if (c.Migrate.OldDumpPath == "") != (c.Migrate.NewDumpPath == "") {
		return fmt.Errorf("config: old-dump and new-dump must be set together")
	}

	return c.Migrate.Validate()
}

// Load unmarshals and verifies the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config

	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %w", err)
	}

	return &c, nil
}

// LoadConfig loads the configuration from the global viper instance.
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}
