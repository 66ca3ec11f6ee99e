package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"liqstream/config"
	metrics "liqstream/internal/metrics"
	"liqstream/internal/models"
	"liqstream/logger"
)

const (
	routeLiquidation = "/api/liquidation"
	routeStatus      = "/api/status"
	requestIDHeader  = "X-Request-ID"
)

// Store is the read side of the liquidation buffer.
type Store interface {
	Snapshot() []models.LiquidationRecord
	Len() int
	Cap() int
}

// Ingestor exposes the stream state for /api/status.
type Ingestor interface {
	StateName() string
	Reconnects() int64
}

// Server serves the buffered liquidations over HTTP. It only ever reads
// from the store.
type Server struct {
	cfg        config.ServerConfig
	store      Store
	ingestor   Ingestor
	prometheus bool
	log        *logger.Log
	started    time.Time
	httpServer *http.Server
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Ingestor   Ingestor
	Prometheus bool
}

func NewServer(cfg config.ServerConfig, store Store, opts Options, log *logger.Log) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	return &Server{
		cfg:        cfg,
		store:      store,
		ingestor:   opts.Ingestor,
		prometheus: opts.Prometheus,
		log:        log,
		started:    time.Now(),
	}
}

// Address reports the address the server listens on.
func (s *Server) Address() string {
	return s.cfg.Address
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	s.log.WithComponent("api").WithField("address", ln.Addr().String()).Info("query server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), s.accessLog())

	router.GET(routeLiquidation, s.handleLiquidations)
	router.GET(routeStatus, s.handleStatus)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.prometheus {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return router
}

func (s *Server) handleLiquidations(c *gin.Context) {
	snapshot := s.store.Snapshot()
	metrics.IncrementQueries(routeLiquidation)
	logger.IncrementQueryServed()
	c.JSON(http.StatusOK, gin.H{"liquidations": snapshot})
}

func (s *Server) handleStatus(c *gin.Context) {
	metrics.IncrementQueries(routeStatus)

	state, reconnects := "disabled", int64(0)
	if s.ingestor != nil {
		state = s.ingestor.StateName()
		reconnects = s.ingestor.Reconnects()
	}
	c.JSON(http.StatusOK, gin.H{
		"stream": gin.H{
			"state":      state,
			"reconnects": reconnects,
		},
		"buffer": gin.H{
			"length":   s.store.Len(),
			"capacity": s.store.Cap(),
		},
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// requestID propagates X-Request-ID or assigns a fresh one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithComponent("api").WithFields(logger.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
			"request_id":  c.GetString("request_id"),
		}).Debug("request served")
	}
}

// normalizeAddress fills in the wildcard host and the default port 5000.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return config.DefaultServerAddress
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
			return net.JoinHostPort(addr, "5000")
		}
		return addr
	}
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = "5000"
	}
	return net.JoinHostPort(host, port)
}
