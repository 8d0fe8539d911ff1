package main

import (
	"context"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/bootstrap"
	"qrattend/internal/config"
	"qrattend/internal/logging"
	"qrattend/internal/worker"
)

// Worker consumes scan events and re-checks each touched bucket for shared
// devices, and sweeps every class on WORKER_SWEEP_CRON.
func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Env).Named("worker")
	defer func() { _ = log.Sync() }()

	if cfg.QueueBackend == "memory" {
		// nothing would ever arrive; the API runs the consumer in-process instead
		log.Warn("QUEUE_BACKEND=memory: only the scheduled sweep runs in this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("open backends", zap.Error(err))
	}
	defer func() { _ = backends.Close() }()

	repo := attendance.NewRepository(backends.Store, cfg.Location)
	svc := attendance.NewService(repo, attendance.Options{
		SemesterStart:     cfg.SemesterStart,
		SuspiciousWindow:  cfg.SuspiciousWindow,
		MaxScansPerDevice: cfg.SuspiciousMaxScan,
		Logger:            log,
	})

	w := worker.New(backends.Queue, svc, log)
	sched, err := w.Schedule(cfg.WorkerSweepCron, cfg.Location)
	if err != nil {
		log.Fatal("schedule sweep", zap.Error(err))
	}
	sched.Start()
	log.Info("sweep scheduled", zap.String("spec", cfg.WorkerSweepCron), zap.String("tz", cfg.Location.String()))

	if err := w.Run(ctx); err != nil {
		log.Error("worker failed", zap.Error(err))
	}

	// wait for a running sweep to finish
	<-sched.Stop().Done()
	log.Info("shutdown complete")
}
