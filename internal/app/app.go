// Package app loads the configuration and wires the storefront server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dulcetentacion/storefront/db"
	"github.com/dulcetentacion/storefront/internal/domain/catalog"
	"github.com/dulcetentacion/storefront/internal/handler"
	"github.com/dulcetentacion/storefront/pkg/health"
	"github.com/dulcetentacion/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.Backend()),
	)

	s, err := newServer(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer s.close()

	s.health.Start(ctx, 10*time.Second)
	s.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           s.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		s.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// server is the wired application before it starts listening.
type server struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newServer(ctx context.Context, lg *zap.Logger, cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider) (_ *server, rerr error) {
	s := &server{}
	defer func() {
		if rerr != nil {
			s.close()
		}
	}()

	// Catalog store + schema.
	store, closeStore, err := OpenCatalog(ctx, lg, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog store")
	}
	s.closers = append(s.closers, closeStore)

	// Starter catalog for an empty store.
	seed, err := catalog.ParseSeed(db.SeedCatalog)
	if err != nil {
		return nil, errors.Wrap(err, "parse seed catalog")
	}
	seeded, err := catalog.Seed(ctx, store, seed, cfg.Images.Placeholder)
	if err != nil {
		return nil, errors.Wrap(err, "seed catalog")
	}
	if seeded {
		lg.Info("Seeded empty catalog", zap.Int("categories", len(seed.Categories)))
	}

	images, err := OpenImages(lg, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open image store")
	}

	svc, err := catalog.NewService(store, images.Guarded(cfg), catalog.Options{
		Placeholder: cfg.Images.Placeholder,
		Logger:      lg.Named("catalog"),
		Meter:       mp.Meter("storefront/catalog"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create catalog service")
	}

	// Health check service.
	s.health = health.New()
	s.health.Readiness(health.Probe{
		Name:    "catalog",
		Timeout: 5 * time.Second,
		Check:   health.PingCheck(store),
	})
	if images.Dir != "" {
		s.health.Readiness(health.Probe{
			Name:  "uploads",
			Check: health.DirWritableCheck(images.Dir),
		})
	}
	s.health.Liveness(health.Probe{
		Name:  "goroutines",
		Check: health.GoroutineCountCheck(10000),
	})

	passwordHash, err := cfg.PasswordHash()
	if err != nil {
		return nil, errors.Wrap(err, "admin password")
	}
	sessionKey, generated := cfg.SessionKey()
	if generated {
		lg.Warn("No session secret configured, using a random key; admin sessions end on restart")
	}

	h, err := handler.New(svc, handler.Config{
		SessionSecret:  sessionKey,
		PasswordHash:   passwordHash,
		SecureCookie:   cfg.SecureCookie,
		MaxUploadBytes: cfg.Images.MaxBytes,
		BodyLimit:      cfg.BodyLimit,
		LoginAttempts:  cfg.LoginRateLimit.Max,
		LoginWindow:    cfg.LoginRateLimit.Window,
		TrustProxy:     cfg.TrustProxy,
		Uploads:        images.Uploads,
		UploadsPrefix:  cfg.Images.URLPrefix,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create handler")
	}

	// Router: health endpoints + storefront routes on one server.
	mux := chi.NewRouter()
	mux.Get("/livez", s.health.LiveEndpoint)
	mux.Get("/readyz", s.health.ReadyEndpoint)
	mux.Mount("/", h.Routes(ctx))

	s.handler = httpmiddleware.Wrap(mux,
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument("storefront", tp, mp),
		httpmiddleware.LogRequests(),
	)
	return s, nil
}
