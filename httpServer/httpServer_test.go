package httpServer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rapidmedia/internal/events"
	"rapidmedia/internal/metrics"
	"rapidmedia/internal/session"
	"rapidmedia/internal/storage"
	"rapidmedia/pkg/models"
)

const (
	transcoderStub = `echo "frame=    1 fps=0.0 q=0.0 size=       0kB time=00:00:00.04 bitrate=   0.0kbits/s" >&2
while :; do echo chunk || exit 0; sleep 0.05; done`

	segmenterStub = `printf '#EXTM3U\n#EXTINF:2.0,\nstream0.ts\n' > "$1"
exec cat > /dev/null`
)

type testEnv struct {
	server  *Server
	manager *session.Manager
	broker  *events.Broker
	store   *storage.LocalStorage
	metrics *metrics.Metrics
	bin     string
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestEnv(t *testing.T, tune func(*session.Config)) *testEnv {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	media := filepath.Join(root, "media")
	require.NoError(t, os.Mkdir(bin, 0o755))
	require.NoError(t, os.Mkdir(media, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(media, "movie.mkv"), []byte("x"), 0o644))

	store, err := storage.NewLocalStorage(filepath.Join(root, "streams"))
	require.NoError(t, err)

	cfg := session.Config{
		TranscoderPath: writeScript(t, bin, "transcoder", transcoderStub),
		TranscoderArgs: "{input}",
		ProbeArgs:      "{input}",
		SegmenterPath:  writeScript(t, bin, "segmenter", segmenterStub),
		SegmenterArgs:  "{index}",
		ReadyTimeout:   5 * time.Second,
	}
	if tune != nil {
		tune(&cfg)
	}

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	broker := events.NewBroker()
	manager := session.NewManager(cfg, store,
		session.WithLogger(zerolog.Nop()),
		session.WithMetrics(m),
		session.WithListeners(broker.ListenerFor),
		session.WithStopHook(broker.Close),
	)
	t.Cleanup(manager.Close)

	srv, err := New(":0", manager, broker, store, m, media)
	require.NoError(t, err)

	return &testEnv{server: srv, manager: manager, broker: broker, store: store, metrics: m, bin: bin}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestPing(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/sessions/movie/start", `{"source":"movie.mkv"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var started models.StartSessionResponse
	decode(t, w, &started)
	assert.Equal(t, "movie", started.Key)
	assert.Equal(t, "/live/movie/stream.m3u8", started.PlaylistURL)

	w = env.do(t, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list models.SessionListResponse
	decode(t, w, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, string(models.SessionStateReady), list.Sessions[0].State)

	w = env.do(t, http.MethodGet, "/api/v1/sessions/movie", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info models.SessionInfo
	decode(t, w, &info)
	assert.Equal(t, "movie", info.Key)
	assert.NotEmpty(t, info.PipelineID)

	w = env.do(t, http.MethodGet, started.PlaylistURL, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "#EXTM3U"))

	w = env.do(t, http.MethodPost, "/api/v1/sessions/movie/stop", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, started.PlaylistURL, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/sessions/movie", "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &info)
	assert.Equal(t, string(models.SessionStateIdle), info.State)
}

func TestLiveChunkSupportsRanges(t *testing.T) {
	env := newTestEnv(t, nil)

	require.NoError(t, env.store.EnsureDir("movie"))
	full, err := env.store.FullPath("movie/stream0.ts")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(full, []byte("0123456789"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/live/movie/stream0.ts", nil)
	req.Header.Set("Range", "bytes=2-5")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "2345", w.Body.String())
	assert.Equal(t, "video/mp2t", w.Header().Get("Content-Type"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ChunksServed))
}

func TestLiveRejectsForeignFiles(t *testing.T) {
	env := newTestEnv(t, nil)

	require.NoError(t, env.store.EnsureDir("movie"))
	full, err := env.store.FullPath("movie/notes.txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(full, []byte("secret"), 0o644))

	for _, target := range []string{
		"/live/movie/notes.txt",
		"/live/movie/stream7.ts",
		"/live/bad%20key/stream.m3u8",
	} {
		w := env.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, w.Code, target)
	}
}

func TestStartSessionErrors(t *testing.T) {
	tests := []struct {
		name   string
		tune   func(*session.Config)
		target string
		body   string
		status int
		reason string
	}{
		{name: "missing body", target: "/api/v1/sessions/movie/start", body: `{}`, status: http.StatusBadRequest},
		{name: "escaping source", target: "/api/v1/sessions/movie/start", body: `{"source":"../etc/passwd"}`, status: http.StatusBadRequest},
		{name: "absolute source", target: "/api/v1/sessions/movie/start", body: `{"source":"/etc/passwd"}`, status: http.StatusBadRequest},
		{name: "invalid key", target: "/api/v1/sessions/bad%20key/start", body: `{"source":"movie.mkv"}`, status: http.StatusBadRequest},
		{name: "missing source", target: "/api/v1/sessions/movie/start", body: `{"source":"nope.mkv"}`, status: http.StatusNotFound},
		{
			name:   "segmenter not installed",
			tune:   func(c *session.Config) { c.SegmenterPath = "/nonexistent/segmenter" },
			target: "/api/v1/sessions/movie/start",
			body:   `{"source":"movie.mkv"}`,
			status: http.StatusServiceUnavailable,
			reason: "spawn",
		},
		{
			name: "never ready",
			tune: func(c *session.Config) {
				c.SegmenterPath = "cat"
				c.SegmenterArgs = "-"
				c.ReadyTimeout = 200 * time.Millisecond
			},
			target: "/api/v1/sessions/movie/start",
			body:   `{"source":"movie.mkv"}`,
			status: http.StatusGatewayTimeout,
			reason: "readiness",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.tune)
			w := env.do(t, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.reason != "" {
				var body map[string]any
				decode(t, w, &body)
				assert.Equal(t, tt.reason, body["reason"])
			}
		})
	}
}

func TestGetUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/v1/sessions/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/sessions/ghost/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProbe(t *testing.T) {
	root := t.TempDir()
	probe := writeScript(t, root, "probe", `cat >&2 <<EOF
Input #0, mpegts, from '$1':
  Duration: 00:00:10.00, start: 1.400000, bitrate: 800 kb/s
    Stream #0:0[0x100]: Video: h264 (Main), yuv420p, 1280x720, 25 fps
    Stream #0:1[0x101](eng): Audio: aac (LC), 44100 Hz, stereo, fltp
EOF
exit 1`)
	env := newTestEnv(t, func(c *session.Config) { c.TranscoderPath = probe })

	w := env.do(t, http.MethodGet, "/api/v1/probe?source=movie.mkv", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.ProbeResponse
	decode(t, w, &resp)
	assert.Equal(t, "movie.mkv", resp.Source)
	require.Len(t, resp.Inputs, 1)
	assert.Equal(t, "mpegts", resp.Inputs[0].Format)
	require.Len(t, resp.Inputs[0].AudioStreams, 1)
	assert.Equal(t, "eng", resp.Inputs[0].AudioStreams[0].Language)

	w = env.do(t, http.MethodGet, "/api/v1/probe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/probe?source=missing.mkv", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// sseRecorder lets gin's Stream run against a recorder.
type sseRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *sseRecorder) CloseNotify() <-chan bool { return r.closed }

func TestSessionEventsStream(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/movie/events", nil).WithContext(ctx)
	rec := &sseRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.server.Handler().ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool { return env.broker.Subscribers("movie") == 1 },
		5*time.Second, 10*time.Millisecond)

	env.broker.ListenerFor("movie").OnFrame("producer_stderr", models.FrameMessage{Frame: 42})
	env.broker.Close("movie")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream did not end")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event:frame")
	assert.Contains(t, body, `"frame":42`)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/event-stream"), rec.Header().Get("Content-Type"))
}

func TestStopSessionEndsEventStream(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/sessions/movie/start", `{"source":"movie.mkv"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/movie/events", nil).WithContext(ctx)
	rec := &sseRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.server.Handler().ServeHTTP(rec, req)
	}()
	require.Eventually(t, func() bool { return env.broker.Subscribers("movie") == 1 },
		5*time.Second, 10*time.Millisecond)

	w = env.do(t, http.MethodPost, "/api/v1/sessions/movie/stop", "")
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream outlived the session")
	}
	assert.Equal(t, 0, env.broker.Subscribers("movie"))
}

func TestRequestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/api/ping", "")
	env.do(t, http.MethodGet, "/does/not/exist", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HTTPRequests.WithLabelValues("GET", "/api/ping", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HTTPRequests.WithLabelValues("GET", "unmatched", "4xx")))

	w := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
