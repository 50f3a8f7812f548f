package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yaoshining/horizon/docstore"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// userHeader and rolesHeader carry the caller identity set by the
// authenticating proxy in front of the service.
const (
	userHeader  = "X-Horizon-User"
	rolesHeader = "X-Horizon-Roles"
)

// callerContextKey is the echo context key for the resolved caller.
const callerContextKey = "caller"

const defaultMaxBatch = 1000

type AppConfig struct {
	Address           string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	MaxBatch          int
	Logger            *slog.Logger
	Metrics           docstore.AppMetrics
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Address:           "127.0.0.1:8181",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		RequestTimeout:    30 * time.Second,
		MaxBatch:          defaultMaxBatch,
		Logger:            slog.Default(),
	}
}

type App struct {
	upserter *docstore.Upserter
	echo     *echo.Echo
	config   AppConfig
	logger   *slog.Logger
	metrics  docstore.AppMetrics

	mu       sync.Mutex
	listener net.Listener
	errCh    chan error
	started  bool
}

// NewApp wires the HTTP surface around upserter. Pass the same AppMetrics to
// the upserter (docstore.WithAppMetrics) and cfg.Metrics for request and
// upsert metrics to share one snapshot.
func NewApp(upserter *docstore.Upserter, cfg AppConfig) *App {
	cfg = mergeWithDefaultAppConfig(cfg)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = docstore.NewPrometheusAppMetrics()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLoggerMiddleware(logger, metrics, registeredRoutes(e)))
	e.Use(requestTimeoutMiddleware(cfg.RequestTimeout))
	e.Use(callerMiddleware())

	app := &App{
		upserter: upserter,
		echo:     e,
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		errCh:    make(chan error, 1),
	}
	app.registerRoutes()
	return app
}

// callerMiddleware resolves the caller from the identity headers. Roles are
// a comma separated list.
func callerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller := docstore.Caller{
				UserID: strings.TrimSpace(c.Request().Header.Get(userHeader)),
			}
			for _, role := range strings.Split(c.Request().Header.Get(rolesHeader), ",") {
				if role = strings.TrimSpace(role); role != "" {
					caller.Roles = append(caller.Roles, role)
				}
			}
			c.Set(callerContextKey, caller)
			return next(c)
		}
	}
}

func callerFrom(c echo.Context) docstore.Caller {
	caller, _ := c.Get(callerContextKey).(docstore.Caller)
	return caller
}

// requestTimeoutMiddleware bounds the store round trips of a request.
func requestTimeoutMiddleware(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func mergeWithDefaultAppConfig(cfg AppConfig) AppConfig {
	d := DefaultAppConfig()
	if cfg.Address != "" {
		d.Address = cfg.Address
	}
	if cfg.ReadHeaderTimeout > 0 {
		d.ReadHeaderTimeout = cfg.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout > 0 {
		d.ShutdownTimeout = cfg.ShutdownTimeout
	}
	if cfg.RequestTimeout > 0 {
		d.RequestTimeout = cfg.RequestTimeout
	}
	if cfg.MaxBatch > 0 {
		d.MaxBatch = cfg.MaxBatch
	}
	if cfg.Logger != nil {
		d.Logger = cfg.Logger
	}
	d.Metrics = cfg.Metrics
	return d
}

// requestLoggerMiddleware records route metrics and logs one line per
// request at a level derived from the status code.
func requestLoggerMiddleware(logger *slog.Logger, metrics docstore.AppMetrics, known func(string) bool) echo.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = docstore.NoopAppMetrics{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			if status == 0 {
				status = http.StatusOK
			}
			route := c.Path()
			logPath := route
			if known == nil || !known(route) {
				route = unmatchedRoute
				logPath = req.URL.Path
			}
			latency := time.Since(start)
			metrics.RecordRequest(req.Method, route, status, latency.Milliseconds())

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", logPath),
				slog.Int("status", status),
				slog.Int64("latency_ms", latency.Milliseconds()),
				slog.String("remote_ip", c.RealIP()),
			}
			if collection := c.Param("collection"); collection != "" {
				attrs = append(attrs, slog.String("collection", collection))
			}
			if user := callerFrom(c).UserID; user != "" {
				attrs = append(attrs, slog.String("user", user))
			}
			logger.LogAttrs(req.Context(), statusLevel(status), "http request", attrs...)
			return nil
		}
	}
}

// unmatchedRoute is the metrics route of requests no registered route
// matched, keeping raw URL paths out of metric keys.
const unmatchedRoute = "unmatched"

// registeredRoutes reports whether a path is one of e's route patterns. The
// set is read on first use, after routes are registered.
func registeredRoutes(e *echo.Echo) func(string) bool {
	var (
		once   sync.Once
		routes map[string]bool
	)
	return func(path string) bool {
		once.Do(func() {
			routes = make(map[string]bool)
			for _, r := range e.Routes() {
				routes[r.Path] = true
			}
		})
		return routes[path]
	}
}

func statusLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func (a *App) registerRoutes() {
	deps := Dependencies{
		Upsert: func(ctx context.Context, caller docstore.Caller, collection string, docs []docstore.Document) ([]docstore.Result, error) {
			if a.upserter == nil {
				return nil, fmt.Errorf("store unavailable")
			}
			return a.upserter.Upsert(ctx, caller, collection, docs)
		},
		Get: func(ctx context.Context, collection, id string) (docstore.Document, error) {
			if a.upserter == nil {
				return nil, fmt.Errorf("store unavailable")
			}
			return a.upserter.Get(ctx, collection, id)
		},
		MaxBatch:   a.config.MaxBatch,
		Logger:     a.logger,
		AppMetrics: a.metrics,
	}
	if pm, ok := a.metrics.(*docstore.PrometheusAppMetrics); ok {
		deps.MetricsHandler = pm.Handler()
	}
	Register(a.echo, deps)
}

func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app already started")
	}

	ln, err := net.Listen("tcp", a.config.Address)
	if err != nil {
		return err
	}
	a.listener = ln
	a.started = true

	srv := &http.Server{Handler: a.echo, ReadHeaderTimeout: a.config.ReadHeaderTimeout}
	a.echo.Server = srv

	go func() {
		err := a.echo.Server.Serve(ln)
		if err == http.ErrServerClosed {
			err = nil
		}
		a.errCh <- err
	}()

	return nil
}

func (a *App) Address() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	addr := a.listener.Addr().String()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	host = strings.TrimSpace(host)
	if host == "" || host == "::" || host == "0.0.0.0" || host == "[::]" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func (a *App) Wait() error {
	return <-a.errCh
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()

	if !started {
		return nil
	}

	if ctx == nil {
		c, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		ctx = c
	}

	if err := a.echo.Shutdown(ctx); err != nil {
		return err
	}
	return nil
}
