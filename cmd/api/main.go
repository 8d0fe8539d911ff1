package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qrattend/internal/api"
	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/bootstrap"
	"qrattend/internal/cloudinary"
	"qrattend/internal/config"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/logging"
	"qrattend/internal/qr"
	"qrattend/internal/worker"
)

const devSigningKey = "dev-signing-secret-change"

func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	if cfg.Production() && cfg.JWTSigningKey == devSigningKey {
		return errors.New("JWT_SIGNING_KEY must be set in production")
	}
	policy, err := attendance.ParseMatchPolicy(cfg.MatchPolicy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.Warn("closing backends", zap.Error(err))
		}
	}()

	repo := attendance.NewRepository(backends.Store, cfg.Location)
	svc := attendance.NewService(repo, attendance.Options{
		SemesterStart:     cfg.SemesterStart,
		Policy:            policy,
		SuspiciousWindow:  cfg.SuspiciousWindow,
		MaxScansPerDevice: cfg.SuspiciousMaxScan,
		Events:            backends.Queue,
		Logger:            log.Named("attendance"),
	})

	// Cloudinary publishing is optional; the PNG endpoint works without it.
	var host qr.ImageHost
	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if cdn.Configured() {
		host = cdn
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Info("cloudinary not configured, QR images are served by the API only")
	}
	origins := splitOrigins(cfg.PublicOrigin)
	qrs := qr.NewManager(repo, host, origins[0], log.Named("qr"))

	h := api.New(api.Deps{
		Service:  svc,
		QR:       qrs,
		Identity: backends.Identity,
		Verifier: backends.Verifier,
		Tokens:   auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		Logger:   log.Named("http"),
		Health:   backends.Health(),
	})

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go sweepLimiter(ctx, limiter)

	// The in-memory queue only reaches a consumer in this process.
	if cfg.QueueBackend == "memory" {
		w := worker.New(backends.Queue, svc, log.Named("worker"))
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error("in-process worker", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.Router(api.RouterOptions{
			AllowedOrigins: origins,
			Production:     cfg.Production(),
			Limiter:        limiter,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

// splitOrigins parses the comma separated PUBLIC_ORIGIN. The first entry is
// the origin QR links point at.
func splitOrigins(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"http://localhost:5173"}
	}
	return out
}

func sweepLimiter(ctx context.Context, l *httpmiddleware.SimpleTokenBucket) {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep(30 * time.Minute)
		}
	}
}
