// Package session keeps at most one transcode pipeline per session key,
// blocks starters until the pipeline's index file exists and tears idle
// pipelines down.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rapidmedia/internal/logging"
	"rapidmedia/internal/metrics"
	"rapidmedia/internal/pipeline"
	"rapidmedia/internal/segmenter"
	"rapidmedia/internal/storage"
	"rapidmedia/internal/transcoder"
	"rapidmedia/pkg/models"
)

// Config holds the pipeline settings the manager substitutes into every
// session. Argument templates are expanded with segmenter.Expand.
type Config struct {
	TranscoderPath string
	TranscoderArgs string
	ProbeArgs      string
	SegmenterPath  string
	SegmenterArgs  string

	SegmentDuration time.Duration
	WindowSize      int

	IdleTimeout  time.Duration
	ReadyTimeout time.Duration
	KillWait     time.Duration

	Prefix   string
	IndexExt string
	ChunkExt string
}

func (c Config) withDefaults() Config {
	if c.TranscoderArgs == "" {
		c.TranscoderArgs = transcoder.DefaultTranscodeArgs
	}
	if c.ProbeArgs == "" {
		c.ProbeArgs = transcoder.DefaultProbeArgs
	}
	if c.SegmenterArgs == "" {
		c.SegmenterArgs = transcoder.DefaultSegmentArgs
	}
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = 2 * time.Second
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 30 * time.Second
	}
	if c.Prefix == "" {
		c.Prefix = "stream"
	}
	if c.IndexExt == "" {
		c.IndexExt = "m3u8"
	}
	if c.ChunkExt == "" {
		c.ChunkExt = "ts"
	}
	return c
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidKey reports whether key can name a session directory.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// ListenerFactory returns the listener for one pipeline of session key.
type ListenerFactory func(key string) pipeline.Listener

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithListeners registers a factory whose listener receives the events of
// every pipeline the manager starts.
func WithListeners(f ListenerFactory) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, f) }
}

// WithStopHook registers f to run with the session key whenever a session
// is stopped, closed by the idle watchdog or shut down. Restarts do not
// count as stops.
func WithStopHook(f func(key string)) Option {
	return func(m *Manager) { m.stopHooks = append(m.stopHooks, f) }
}

// Manager owns every session.
type Manager struct {
	cfg       Config
	store     storage.Storage
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	listeners []ListenerFactory
	stopHooks []func(key string)

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	closing  chan struct{}

	// watchdogs tracks one idle watchdog per session that ever became ready.
	watchdogs sync.WaitGroup
}

// NewManager creates a manager writing session output below store.
func NewManager(cfg Config, store storage.Storage, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		store:    store,
		logger:   logging.WithComponent("session"),
		sessions: make(map[string]*Session),
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Layout returns the output layout of session key.
func (m *Manager) Layout(key string) segmenter.Layout {
	return segmenter.Layout{Dir: key, Prefix: m.cfg.Prefix, IndexExt: m.cfg.IndexExt, ChunkExt: m.cfg.ChunkExt}
}

// StartSession (re)starts the pipeline of key for source, an absolute path
// to a media file, and blocks until its index file exists. Concurrent
// starts of one key are serialized; any previous pipeline is destroyed and
// its files removed first.
func (m *Manager) StartSession(ctx context.Context, key, source string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if info, err := os.Stat(source); err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}
	s, err := m.session(key, true)
	if err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.start(ctx, source)
}

// OnActivity records a request for one of the session's files, pushing
// back its idle deadline. It reports whether key has a running pipeline.
func (m *Manager) OnActivity(key string) bool {
	s, _ := m.session(key, false)
	if s == nil {
		return false
	}
	return s.touch()
}

// StopSession destroys the pipeline of key and removes its output. It is
// idempotent and may be called in any state.
func (m *Manager) StopSession(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	s, _ := m.session(key, false)
	if s == nil {
		return nil
	}
	s.stop("stop", models.SessionStateIdle)
	m.stopped(key)
	return nil
}

// Session returns a snapshot of one session.
func (m *Manager) Session(key string) (models.SessionInfo, bool) {
	s, _ := m.session(key, false)
	if s == nil {
		return models.SessionInfo{}, false
	}
	return s.Info(), true
}

// Sessions returns snapshots of every known session, sorted by key.
func (m *Manager) Sessions() []models.SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]models.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// Close stops every session and waits for the idle watchdogs to exit.
// Starts blocked on readiness fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.closing)
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.stop("shutdown", models.SessionStateIdle)
		m.stopped(s.key)
	}
	m.watchdogs.Wait()
	m.logger.Info().Int("sessions", len(sessions)).Msg("session manager closed")
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) session(key string, create bool) (*Session, error) {
	if create {
		m.mu.Lock()
		defer m.mu.Unlock()
	} else {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.sessions[key]
	if !ok && create {
		s = newSession(m, key)
		m.sessions[key] = s
	}
	return s, nil
}

func (m *Manager) stopped(key string) {
	for _, f := range m.stopHooks {
		f(key)
	}
}

func (m *Manager) listenerFor(key string) pipeline.Listener {
	if len(m.listeners) == 0 {
		return nil
	}
	ml := make(pipeline.MultiListener, 0, len(m.listeners))
	for _, f := range m.listeners {
		if l := f(key); l != nil {
			ml = append(ml, l)
		}
	}
	return ml
}

// Probe runs the transcoder's probe command on source and returns the
// inputs it describes. The run is bounded by the ready timeout.
func (m *Manager) Probe(ctx context.Context, source string) ([]*models.MediaInfo, error) {
	if info, err := os.Stat(source); err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}
	if m.isClosed() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ReadyTimeout)
	defer cancel()

	vars := segmenter.Layout{}.Vars(segmenter.Params{Input: source})
	collector := &mediaCollector{}
	p := pipeline.New(pipeline.Config{
		Producer: pipeline.Command{Path: m.cfg.TranscoderPath, Args: segmenter.Expand(m.cfg.ProbeArgs, vars)},
		Role:     pipeline.RoleProbe,
		Listener: collector,
		Logger:   m.logger,
		Metrics:  m.metrics,
		KillWait: m.cfg.KillWait,
	})
	if err := p.Start(); err != nil {
		return nil, err
	}

	select {
	case <-p.Done():
	case <-ctx.Done():
		p.Destroy()
		return nil, ctx.Err()
	}

	if len(collector.infos) == 0 {
		return nil, ErrNoInputs
	}
	return collector.infos, nil
}

type mediaCollector struct {
	pipeline.NopListener
	infos []*models.MediaInfo
}

func (c *mediaCollector) OnMediaInfo(infos []*models.MediaInfo) {
	c.infos = infos
}

// startResult labels a start outcome for metrics.
func startResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrReadyTimeout):
		return "ready_timeout"
	case errors.Is(err, ErrExitedBeforeReady):
		return "exited"
	case errors.Is(err, ErrStopped):
		return "stopped"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "spawn_error"
	}
}
