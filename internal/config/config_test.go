package config_test

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/xpack/internal/config"
	"github.com/ossyrian/xpack/internal/format"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Load(v)
	require.NoError(t, err)

	assert.Equal(t, "zlib", cfg.Codec)
	assert.True(t, cfg.VerifyCRC)
	assert.True(t, cfg.Shrink)
	assert.False(t, cfg.Force)
	assert.Equal(t, 4, cfg.Jobs)
	assert.Equal(t, "info", cfg.LogLevel)

	codec, err := cfg.CodecID()
	require.NoError(t, err)
	assert.Equal(t, format.CodecZlib, codec)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		set     map[string]any
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "overrides",
			set:  map[string]any{"codec": "zstd", "password": "hunter2", "jobs": 8, "verify_crc": false},
			check: func(t *testing.T, cfg *config.Config) {
				codec, err := cfg.CodecID()
				require.NoError(t, err)
				assert.Equal(t, format.CodecZstd, codec)
				assert.Equal(t, "hunter2", cfg.Password)
				assert.Equal(t, 8, cfg.Jobs)
				assert.False(t, cfg.VerifyCRC)
			},
		},
		{
			name:    "unknown codec",
			set:     map[string]any{"codec": "lzma"},
			wantErr: true,
		},
		{
			name:    "no jobs",
			set:     map[string]any{"jobs": 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := viper.New()
			config.SetDefaults(v)
			for k, val := range tt.set {
				v.Set(k, val)
			}

			cfg, err := config.Load(v)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
