package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		HTTPAddr:           ":8080",
		StorageDir:         "./data/streams",
		MediaDir:           "./data/media",
		TranscoderPath:     "ffmpeg",
		SegmenterPath:      "ffmpeg",
		HLSSegmentDuration: 2 * time.Second,
		HLSMaxSegments:     10,
		PlaylistPrefix:     "stream",
		PlaylistExt:        "m3u8",
		ChunkExt:           "ts",
		IdleTimeoutMS:      30000,
		ReadyTimeout:       30 * time.Second,
		KillWait:           5 * time.Second,
		LogLevel:           "info",
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "./data/streams", cfg.StorageDir)
	assert.Equal(t, "ffmpeg", cfg.TranscoderPath)
	assert.Empty(t, cfg.TranscoderArgs)
	assert.Equal(t, 2*time.Second, cfg.HLSSegmentDuration)
	assert.Equal(t, 10, cfg.HLSMaxSegments)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout())
	assert.Equal(t, 30*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, "m3u8", cfg.PlaylistExt)
	assert.Equal(t, "ts", cfg.ChunkExt)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("IDLE_TIMEOUT_MS", "1500")
	t.Setenv("READY_TIMEOUT", "5s")
	t.Setenv("SEGMENTER_ARGS", "{index}")
	t.Setenv("CHUNK_EXT", "m4s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, 1500*time.Millisecond, cfg.IdleTimeout())
	assert.Equal(t, 5*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, "{index}", cfg.SegmenterArgs)
	assert.Equal(t, "m4s", cfg.ChunkExt)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rapidmedia.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":7000"
media_dir: /srv/media
hls_max_segments: 4
transcoder_path: /usr/local/bin/ffmpeg
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
	assert.Equal(t, "/srv/media", cfg.MediaDir)
	assert.Equal(t, 4, cfg.HLSMaxSegments)
	assert.Equal(t, "/usr/local/bin/ffmpeg", cfg.TranscoderPath)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IDLE_TIMEOUT_MS", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle_timeout_ms")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no transcoder", func(c *Config) { c.TranscoderPath = "" }, "transcoder_path"},
		{"no segmenter", func(c *Config) { c.SegmenterPath = "" }, "segmenter_path"},
		{"zero window", func(c *Config) { c.HLSMaxSegments = 0 }, "hls_max_segments"},
		{"negative ready timeout", func(c *Config) { c.ReadyTimeout = -time.Second }, "ready_timeout"},
		{"dotted extension", func(c *Config) { c.ChunkExt = ".ts" }, "chunk_ext"},
		{"same extensions", func(c *Config) { c.ChunkExt = "m3u8" }, "must differ"},
		{"prefix with slash", func(c *Config) { c.PlaylistPrefix = "a/b" }, "playlist_prefix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := validTestConfig()
	cfg.IdleTimeoutMS = 2500
	cfg.SegmenterArgs = "{index}"

	sc := cfg.SessionConfig()
	assert.Equal(t, 2500*time.Millisecond, sc.IdleTimeout)
	assert.Equal(t, "{index}", sc.SegmenterArgs)
	assert.Equal(t, 10, sc.WindowSize)
	assert.Equal(t, "m3u8", sc.IndexExt)
	assert.Equal(t, "stream", sc.Prefix)
}
