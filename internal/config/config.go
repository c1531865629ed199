package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/ossyrian/xpack/internal/format"
)

// Config holds app configuration
type Config struct {
	// Password replaces the built-in content key. Entries are encrypted
	// whenever a password is set.
	Password string `mapstructure:"password"`

	// MetadataKey replaces the built-in key for the header and tables.
	// Archives written with a custom metadata key can only be opened with
	// the same key.
	MetadataKey string `mapstructure:"metadata_key"`

	// Codec is the compressor recorded in new archives (zlib, zstd)
	Codec    string `mapstructure:"codec"`
	Compress bool   `mapstructure:"compress"`

	VerifyCRC bool `mapstructure:"verify_crc"`
	Shrink    bool `mapstructure:"shrink"`
	Force     bool `mapstructure:"force"`
	Jobs      int  `mapstructure:"jobs"`

	LogLevel     string `mapstructure:"log_level"`
	LogOutputDir string `mapstructure:"log_output_dir"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("codec", "zlib")
	v.SetDefault("verify_crc", true)
	v.SetDefault("shrink", true)
	v.SetDefault("jobs", 4)
	v.SetDefault("log_level", "info")
}

// Load unmarshals v into a Config and checks it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.CodecID(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Jobs < 1 {
		return nil, fmt.Errorf("invalid config: jobs must be at least 1, got %d", cfg.Jobs)
	}
	return cfg, nil
}

func (c *Config) CodecID() (format.Codec, error) {
	return format.ParseCodec(c.Codec)
}
