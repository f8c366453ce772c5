// Package config loads the server configuration from defaults, an optional
// YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"rapidmedia/internal/session"
)

// Config holds all application configuration
type Config struct {
	// HTTP Server
	HTTPAddr string `mapstructure:"http_addr"`

	// Storage
	StorageDir string `mapstructure:"storage_dir"` // Session output directories live here
	MediaDir   string `mapstructure:"media_dir"`   // Sources are resolved below this directory

	// External programs. Empty argument templates use the built-in ffmpeg ones.
	TranscoderPath string `mapstructure:"transcoder_path"`
	TranscoderArgs string `mapstructure:"transcoder_args"`
	ProbeArgs      string `mapstructure:"probe_args"`
	SegmenterPath  string `mapstructure:"segmenter_path"`
	SegmenterArgs  string `mapstructure:"segmenter_args"`

	// HLS
	HLSSegmentDuration time.Duration `mapstructure:"hls_segment_duration"`
	HLSMaxSegments     int           `mapstructure:"hls_max_segments"`
	PlaylistPrefix     string        `mapstructure:"playlist_prefix"`
	PlaylistExt        string        `mapstructure:"playlist_ext"`
	ChunkExt           string        `mapstructure:"chunk_ext"`

	// Sessions
	IdleTimeoutMS int           `mapstructure:"idle_timeout_ms"`
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
	KillWait      time.Duration `mapstructure:"kill_wait"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("storage_dir", "./data/streams")
	v.SetDefault("media_dir", "./data/media")
	v.SetDefault("transcoder_path", "ffmpeg")
	v.SetDefault("transcoder_args", "")
	v.SetDefault("probe_args", "")
	v.SetDefault("segmenter_path", "ffmpeg")
	v.SetDefault("segmenter_args", "")
	v.SetDefault("hls_segment_duration", 2*time.Second)
	v.SetDefault("hls_max_segments", 10)
	v.SetDefault("playlist_prefix", "stream")
	v.SetDefault("playlist_ext", "m3u8")
	v.SetDefault("chunk_ext", "ts")
	v.SetDefault("idle_timeout_ms", 30000)
	v.SetDefault("ready_timeout", 30*time.Second)
	v.SetDefault("kill_wait", 5*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
}

// Load reads configuration from the optional file at configPath and from
// environment variables, which take precedence. Variables are the upper-case
// keys, e.g. HTTP_ADDR or IDLE_TIMEOUT_MS.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rapidmedia")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rapidmedia")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http_addr is required")
	}
	if c.StorageDir == "" {
		return errors.New("storage_dir is required")
	}
	if c.MediaDir == "" {
		return errors.New("media_dir is required")
	}
	if c.TranscoderPath == "" {
		return errors.New("transcoder_path is required")
	}
	if c.SegmenterPath == "" {
		return errors.New("segmenter_path is required")
	}
	if c.HLSSegmentDuration <= 0 {
		return errors.New("hls_segment_duration must be positive")
	}
	if c.HLSMaxSegments < 1 {
		return errors.New("hls_max_segments must be at least 1")
	}
	if c.IdleTimeoutMS <= 0 {
		return errors.New("idle_timeout_ms must be positive")
	}
	if c.ReadyTimeout <= 0 {
		return errors.New("ready_timeout must be positive")
	}
	if c.KillWait <= 0 {
		return errors.New("kill_wait must be positive")
	}
	for name, ext := range map[string]string{"playlist_ext": c.PlaylistExt, "chunk_ext": c.ChunkExt} {
		if ext == "" || strings.ContainsAny(ext, `./\`) {
			return fmt.Errorf("%s must be a bare file extension", name)
		}
	}
	if c.PlaylistExt == c.ChunkExt {
		return errors.New("playlist_ext and chunk_ext must differ")
	}
	if c.PlaylistPrefix == "" || strings.ContainsAny(c.PlaylistPrefix, `/\`) {
		return errors.New("playlist_prefix must be a plain file name prefix")
	}
	return nil
}

// IdleTimeout returns IdleTimeoutMS as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

// SessionConfig returns the session manager settings.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		TranscoderPath:  c.TranscoderPath,
		TranscoderArgs:  c.TranscoderArgs,
		ProbeArgs:       c.ProbeArgs,
		SegmenterPath:   c.SegmenterPath,
		SegmenterArgs:   c.SegmenterArgs,
		SegmentDuration: c.HLSSegmentDuration,
		WindowSize:      c.HLSMaxSegments,
		IdleTimeout:     c.IdleTimeout(),
		ReadyTimeout:    c.ReadyTimeout,
		KillWait:        c.KillWait,
		Prefix:          c.PlaylistPrefix,
		IndexExt:        c.PlaylistExt,
		ChunkExt:        c.ChunkExt,
	}
}
