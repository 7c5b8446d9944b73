// Package config loads the command line tool's settings.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/arloliu/diagcap/chunk"
	"github.com/arloliu/diagcap/format"
	"github.com/arloliu/diagcap/ingest"
)

// Config holds all configuration for diagcap.
type Config struct {
	Log     LogConfig
	Decode  DecodeConfig
	Metrics MetricsConfig
}

type LogConfig struct {
	Level  string
	Format string // "console" or "json"
}

type DecodeConfig struct {
	Lazy            bool
	Workers         int
	QueueSize       int
	MaxSamples      int
	Compression     string // zlib, zstd, s2, lz4 or none
	DeltaEncoding   string // zigzag or unsigned
	TimestampMetric string
}

type MetricsConfig struct {
	Enabled bool // print ingestion metrics to stderr after each command
}

// Load reads configuration from defaults, an optional config file and DIAGCAP_* environment
// variables, later sources overriding earlier ones.
//
// An empty path searches for diagcap.toml in the working directory and $HOME/.diagcap/; a
// missing file is not an error in that case.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DIAGCAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("diagcap")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.diagcap/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Decode: DecodeConfig{
			Lazy:            v.GetBool("decode.lazy"),
			Workers:         v.GetInt("decode.workers"),
			QueueSize:       v.GetInt("decode.queue_size"),
			MaxSamples:      v.GetInt("decode.max_samples"),
			Compression:     v.GetString("decode.compression"),
			DeltaEncoding:   v.GetString("decode.delta_encoding"),
			TimestampMetric: v.GetString("decode.timestamp_metric"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")

	v.SetDefault("decode.lazy", false)
	v.SetDefault("decode.workers", runtime.GOMAXPROCS(0))
	v.SetDefault("decode.queue_size", ingest.DefaultQueueSize)
	v.SetDefault("decode.max_samples", chunk.DefaultMaxSamples)
	v.SetDefault("decode.compression", "zlib")
	v.SetDefault("decode.delta_encoding", "zigzag")
	v.SetDefault("decode.timestamp_metric", chunk.DefaultTimestampMetric)

	v.SetDefault("metrics.enabled", false)
}

// Validate checks the values that have no safe fallback.
func (c *Config) Validate() error {
	if c.Decode.Workers < 0 {
		return fmt.Errorf("invalid decode.workers %d", c.Decode.Workers)
	}
	if c.Decode.QueueSize < 1 {
		return fmt.Errorf("invalid decode.queue_size %d", c.Decode.QueueSize)
	}
	if c.Decode.MaxSamples < 1 {
		return fmt.Errorf("invalid decode.max_samples %d", c.Decode.MaxSamples)
	}
	if _, ok := format.ParseCompressionType(c.Decode.Compression); !ok {
		return fmt.Errorf("unknown decode.compression %q", c.Decode.Compression)
	}
	if _, ok := format.ParseDeltaEncoding(c.Decode.DeltaEncoding); !ok {
		return fmt.Errorf("unknown decode.delta_encoding %q", c.Decode.DeltaEncoding)
	}

	return nil
}

// DecoderOptions converts the decode settings to chunk decoder options.
func (c DecodeConfig) DecoderOptions() []chunk.Option {
	compression, _ := format.ParseCompressionType(c.Compression)
	deltas, _ := format.ParseDeltaEncoding(c.DeltaEncoding)

	return []chunk.Option{
		chunk.WithLazy(c.Lazy),
		chunk.WithMaxSamples(c.MaxSamples),
		chunk.WithCompression(compression),
		chunk.WithDeltaEncoding(deltas),
		chunk.WithTimestampMetric(c.TimestampMetric),
	}
}

// ReaderOptions converts the decode settings to ingest reader options, excluding the decoder.
func (c DecodeConfig) ReaderOptions() []ingest.Option {
	return []ingest.Option{
		ingest.WithWorkers(c.Workers),
		ingest.WithQueueSize(c.QueueSize),
	}
}
