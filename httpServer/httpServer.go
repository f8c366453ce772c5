package httpServer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"time"

	"rapidmedia/internal/events"
	"rapidmedia/internal/logging"
	"rapidmedia/internal/metrics"
	"rapidmedia/internal/process"
	"rapidmedia/internal/session"
	"rapidmedia/internal/storage"
	"rapidmedia/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// eventBuffer is the per-client buffer of the session event stream
const eventBuffer = 64

// Server wraps the HTTP server with dependencies
type Server struct {
	router   *gin.Engine
	httpSrv  *http.Server
	manager  *session.Manager
	broker   *events.Broker
	store    storage.Storage
	metrics  *metrics.Metrics
	mediaDir string
	logger   zerolog.Logger
}

// New creates a new HTTP server listening on addr. Sources named in API
// requests are resolved below mediaDir.
func New(addr string, manager *session.Manager, broker *events.Broker, store storage.Storage, m *metrics.Metrics, mediaDir string) (*Server, error) {
	absMedia, err := filepath.Abs(mediaDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media directory: %w", err)
	}

	s := &Server{
		manager:  manager,
		broker:   broker,
		store:    store,
		metrics:  m,
		mediaDir: absMedia,
		logger:   logging.WithComponent("http"),
	}
	s.setupRoutes()
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), s.requestMetrics())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/v1/sessions", s.handleListSessions)
		api.GET("/v1/sessions/:key", s.handleGetSession)
		api.GET("/v1/sessions/:key/events", s.handleSessionEvents)
		api.POST("/v1/sessions/:key/start", s.handleStartSession)
		api.POST("/v1/sessions/:key/stop", s.handleStopSession)
		api.GET("/v1/probe", s.handleProbe)
	}

	router.GET("/live/:key/:file", s.handleLiveFile)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = router
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until Shutdown is called
func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones to finish
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler implementations

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.manager.Sessions()
	c.JSON(http.StatusOK, models.SessionListResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	info, exists := s.manager.Session(c.Param("key"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleStartSession(c *gin.Context) {
	key := c.Param("key")

	var req models.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	source, err := s.resolveSource(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.manager.StartSession(c.Request.Context(), key, source); err != nil {
		s.writeStartError(c, key, err)
		return
	}

	layout := s.manager.Layout(key)
	c.JSON(http.StatusOK, models.StartSessionResponse{
		Key:         key,
		PlaylistURL: "/live/" + key + "/" + layout.IndexName(),
	})
}

func (s *Server) writeStartError(c *gin.Context, key string, err error) {
	var spawnErr *process.SpawnError
	switch {
	case errors.Is(err, session.ErrInvalidKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
	case errors.As(err, &spawnErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  err.Error(),
			"reason": "spawn",
			"detail": spawnErr.Reason(),
		})
	case session.IsReadinessError(err):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error(), "reason": "readiness"})
	case errors.Is(err, session.ErrStopped):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrClosed), errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Str("session_key", key).Msg("session start failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
	}
}

func (s *Server) handleStopSession(c *gin.Context) {
	key := c.Param("key")
	if err := s.manager.StopSession(key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "session stopped",
		"key":     key,
	})
}

func (s *Server) handleSessionEvents(c *gin.Context) {
	key := c.Param("key")
	if !session.ValidKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session key"})
		return
	}

	ch, cleanup := s.broker.Subscribe(key, eventBuffer)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (s *Server) handleProbe(c *gin.Context) {
	name := c.Query("source")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source is required"})
		return
	}
	source, err := s.resolveSource(name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inputs, err := s.manager.Probe(c.Request.Context(), source)
	var spawnErr *process.SpawnError
	switch {
	case err == nil:
	case errors.Is(err, session.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	case errors.Is(err, session.ErrNoInputs):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case errors.As(err, &spawnErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "reason": "spawn", "detail": spawnErr.Reason()})
		return
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "probe timed out"})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.ProbeResponse{Source: name, Inputs: inputs})
}

func (s *Server) handleLiveFile(c *gin.Context) {
	key := c.Param("key")
	file := c.Param("file")

	layout := s.manager.Layout(key)
	if !session.ValidKey(key) || !layout.IsArtifact(file) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	obj, err := s.store.Open(key + "/" + file)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("session_key", key).Str("file", file).Msg("failed to open session file")
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	defer obj.Close()

	s.manager.OnActivity(key)

	if layout.IsChunk(file) {
		s.metrics.RecordChunkServed()
		c.Header("Content-Type", "video/mp2t")
		c.Header("Cache-Control", "public, max-age=60")
	} else {
		// The index is rewritten as chunks roll over
		c.Header("Content-Type", "application/vnd.apple.mpegurl")
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	}
	c.Header("Access-Control-Allow-Origin", "*")

	http.ServeContent(c.Writer, c.Request, obj.Name(), obj.ModTime(), obj)
}

// Helper functions

// resolveSource maps a media-relative name to an absolute path below the
// media directory.
func (s *Server) resolveSource(name string) (string, error) {
	clean := filepath.FromSlash(name)
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("invalid source %q", name)
	}
	return filepath.Join(s.mediaDir, clean), nil
}
