package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rapidmedia/internal/artifact"
	"rapidmedia/internal/pipeline"
	"rapidmedia/internal/process"
	"rapidmedia/internal/segmenter"
	"rapidmedia/pkg/models"
)

// Session is the state of one key. opMu serializes starts; mu guards
// everything below it, and every destroy-then-clean or spawn-then-install
// sequence runs with mu held.
type Session struct {
	key    string
	layout segmenter.Layout
	m      *Manager
	logger zerolog.Logger

	opMu sync.Mutex

	mu           sync.Mutex
	state        models.SessionState
	source       string
	pipe         *pipeline.Pipeline
	watcher      *artifact.Watcher
	startedAt    time.Time
	lastActivity time.Time
	lastErr      error
	watchdog     bool

	// wake unparks the idle watchdog after a start.
	wake chan struct{}
}

func newSession(m *Manager, key string) *Session {
	return &Session{
		key:    key,
		layout: m.Layout(key),
		m:      m,
		logger: m.logger.With().Str("session_key", key).Logger(),
		state:  models.SessionStateIdle,
		wake:   make(chan struct{}, 1),
	}
}

// Key returns the session key.
func (s *Session) Key() string { return s.key }

func (s *Session) start(ctx context.Context, source string) error {
	begin := time.Now()

	p, w, ready, err := s.spawn(source)
	if err != nil {
		s.m.metrics.RecordSessionStart(startResult(err))
		return err
	}

	// Files may already be there if the segmenter is fast.
	if err := w.Watch(); err != nil {
		s.logger.Warn().Err(err).Msg("directory watch unavailable, relying on diagnostic lines")
	}

	timer := time.NewTimer(s.m.cfg.ReadyTimeout)
	defer timer.Stop()

	var cause error
	select {
	case <-ready:
	case <-p.Done():
		// The index may have landed together with the final lines.
		if !w.Check() {
			cause = ErrExitedBeforeReady
		}
	case <-timer.C:
		cause = fmt.Errorf("%w after %s", ErrReadyTimeout, s.m.cfg.ReadyTimeout)
	case <-ctx.Done():
		cause = ctx.Err()
	case <-s.m.closing:
		cause = ErrClosed
	}

	if cause == nil {
		err = s.markReady(p, begin)
	} else {
		err = s.fail(p, cause)
	}
	s.m.metrics.RecordSessionStart(startResult(err))
	return err
}

// spawn tears down the previous pipeline, cleans the output directory and
// starts a new pipeline, all under s.mu.
func (s *Session) spawn(source string) (*pipeline.Pipeline, *artifact.Watcher, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m.isClosed() {
		return nil, nil, nil, ErrClosed
	}
	s.teardownLocked("restart")

	if err := s.m.store.EnsureDir(s.layout.Dir); err != nil {
		s.failLocked(err)
		return nil, nil, nil, err
	}
	dir, err := s.m.store.FullPath(s.layout.Dir)
	if err != nil {
		s.failLocked(err)
		return nil, nil, nil, err
	}
	indexPath, err := s.m.store.FullPath(s.layout.IndexPath())
	if err != nil {
		s.failLocked(err)
		return nil, nil, nil, err
	}

	ready := make(chan struct{})
	w := artifact.New(indexPath, func() { close(ready) }, s.logger)

	cfg := s.m.cfg
	vars := s.layout.Vars(segmenter.Params{
		Input:           source,
		Dir:             dir,
		SegmentDuration: cfg.SegmentDuration,
		WindowSize:      cfg.WindowSize,
	})
	p := pipeline.New(pipeline.Config{
		Producer: pipeline.Command{Path: cfg.TranscoderPath, Args: segmenter.Expand(cfg.TranscoderArgs, vars)},
		Consumer: pipeline.Command{Path: cfg.SegmenterPath, Args: segmenter.Expand(cfg.SegmenterArgs, vars)},
		Role:     pipeline.RoleTranscode,
		Dir:      dir,
		Listener: s.m.listenerFor(s.key),
		OnLine:   func(pipeline.Stream, string) { w.Check() },
		Logger:   s.logger,
		Metrics:  s.m.metrics,
		KillWait: cfg.KillWait,
	})
	if err := p.Start(); err != nil {
		s.failLocked(err)
		var spawnErr *process.SpawnError
		if errors.As(err, &spawnErr) {
			s.logger.Error().Err(err).Str("reason", spawnErr.Reason()).Msg("pipeline spawn failed")
		}
		return nil, nil, nil, err
	}

	now := time.Now()
	s.pipe = p
	s.watcher = w
	s.source = source
	s.state = models.SessionStateStarting
	s.startedAt = now
	s.lastActivity = now
	s.lastErr = nil
	return p, w, ready, nil
}

func (s *Session) markReady(p *pipeline.Pipeline, begin time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipe != p {
		return s.supersededErr()
	}
	s.state = models.SessionStateReady
	s.lastActivity = time.Now()

	latency := time.Since(begin)
	s.m.metrics.RecordSessionReady(latency)
	s.logger.Info().Str("pipeline_id", p.ID()).Dur("latency", latency).Msg("session ready")

	if !s.watchdog {
		s.watchdog = true
		s.m.watchdogs.Add(1)
		go s.runWatchdog()
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *Session) fail(p *pipeline.Pipeline, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipe != p {
		return s.supersededErr()
	}
	s.logger.Warn().Err(cause).Str("pipeline_id", p.ID()).Msg("session start failed")
	s.teardownLocked("failed")
	s.failLocked(cause)
	return cause
}

// supersededErr explains why a start lost its pipeline to someone else.
func (s *Session) supersededErr() error {
	if s.m.isClosed() {
		return ErrClosed
	}
	return ErrStopped
}

func (s *Session) failLocked(err error) {
	s.state = models.SessionStateFailed
	s.lastErr = err
}

// teardownLocked destroys the current pipeline, if any, and removes the
// session's output files. Callers hold s.mu.
func (s *Session) teardownLocked(reason string) {
	if s.pipe != nil {
		p := s.pipe
		wasReady := s.state == models.SessionStateReady
		p.Destroy()
		s.watcher.Close()
		s.pipe = nil
		s.watcher = nil
		s.m.metrics.RecordSessionStop(reason, wasReady, time.Since(s.startedAt))
		s.logger.Info().Str("pipeline_id", p.ID()).Str("reason", reason).Msg("pipeline destroyed")
	}
	if removed, err := s.layout.Clean(s.m.store); err != nil {
		s.logger.Warn().Err(err).Msg("failed to remove session files")
	} else if removed > 0 {
		s.logger.Debug().Int("files", removed).Msg("session files removed")
	}
}

func (s *Session) stop(reason string, state models.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked(reason)
	s.state = state
}

func (s *Session) touch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipe == nil {
		return false
	}
	s.lastActivity = time.Now()
	return true
}

// runWatchdog tears the pipeline down once no activity was recorded for
// the idle timeout. With no ready pipeline it parks until the next start.
// It exits when the manager closes.
func (s *Session) runWatchdog() {
	defer s.m.watchdogs.Done()

	timeout := s.m.cfg.IdleTimeout
	timer := time.NewTimer(timeout)
	timer.Stop()

	for {
		s.mu.Lock()
		if s.pipe == nil || s.state != models.SessionStateReady {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.m.closing:
				return
			}
		}

		idle := time.Since(s.lastActivity)
		if idle >= timeout {
			s.logger.Info().Dur("idle", idle).Msg("idle timeout")
			s.teardownLocked("idle")
			s.state = models.SessionStateIdle
			s.mu.Unlock()
			s.m.stopped(s.key)
			continue
		}
		s.mu.Unlock()

		timer.Reset(timeout - idle)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-s.m.closing:
			timer.Stop()
			return
		}
	}
}

// Info returns a snapshot of the session.
func (s *Session) Info() models.SessionInfo {
	s.mu.Lock()
	info := models.SessionInfo{
		Key:    s.key,
		State:  string(s.state),
		Source: s.source,
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	p := s.pipe
	if p != nil {
		info.PipelineID = p.ID()
		info.StartedAt = s.startedAt.UTC().Format(time.RFC3339)
		info.LastActivity = s.lastActivity.UTC().Format(time.RFC3339)
		info.IdleSeconds = int(time.Since(s.lastActivity).Seconds())
	}
	s.mu.Unlock()

	if p == nil {
		return info
	}
	info.LastFrame = p.LastFrame()
	info.Transcoder = statsOf(p.Producer())
	info.Segmenter = statsOf(p.Consumer())
	return info
}

func statsOf(proc *process.Process) *models.ProcessStats {
	if proc == nil {
		return nil
	}
	stats, err := proc.Stats()
	if err != nil {
		// Exited processes still report their pid.
		return &models.ProcessStats{PID: stats.PID}
	}
	return &stats
}
