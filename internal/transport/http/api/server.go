package apihttp

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/aggregator"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/audit"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/index"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/obs"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

const (
	defaultAddr            = ":8080"
	defaultShutdownTimeout = 5 * time.Second
)

// ServerConfig describes the dashboard API dependencies.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	Store      *audit.Store
	Aggregator *aggregator.Aggregator
	// Index is optional; without it every query scans partitions.
	Index   *index.Index
	Metrics *obs.Metrics
	// Now stamps operator events; defaults to time.Now.
	Now func() time.Time
}

// Server serves the dashboard and audit read API.
type Server struct {
	cfg    ServerConfig
	router *gin.Engine
}

// NewServer builds the gin engine and registers every route.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil || cfg.Aggregator == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "api server requires store and aggregator")
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		obs.NewCollector(cfg.Metrics, map[string]obs.SeriesFunc{
			"dashboard": cfg.Aggregator.MetricsAsGrafanaSeries,
		}),
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"last_seq":         cfg.Store.LastSeq(),
			"events_in_memory": cfg.Store.Len(),
			"index":            cfg.Index != nil,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	h := &handler{
		store:   cfg.Store,
		agg:     cfg.Aggregator,
		index:   cfg.Index,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	h.Register(router.Group("/api/v1"))

	return &Server{cfg: cfg, router: router}, nil
}

// requestLogger logs every request with its status and duration.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if query := c.Request.URL.RawQuery; query != "" {
			path += "?" + query
		}
		c.Next()
		logs.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.cfg.Addr
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logs.Infof("dashboard api listening on %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logs.Warnf("dashboard api shutdown, err: %+v", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
