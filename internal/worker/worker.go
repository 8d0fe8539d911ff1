// Package worker runs the background checks: it consumes scan events and
// re-runs the suspicious-scan heuristic for the affected bucket, and it
// sweeps every class on a cron schedule.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/queue"
)

const (
	bucketTimeout = 30 * time.Second
	sweepTimeout  = 4 * time.Minute
)

// Consumer is the receiving half of a queue.
type Consumer interface {
	Consume(ctx context.Context) (<-chan queue.Message, error)
}

// Checker runs the heuristic; *attendance.Service implements it.
type Checker interface {
	CheckBucket(ctx context.Context, classID, date string) (attendance.SuspiciousReport, error)
	SweepToday(ctx context.Context) (int, error)
}

type Worker struct {
	q   Consumer
	svc Checker
	log *zap.Logger
}

func New(q Consumer, svc Checker, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{q: q, svc: svc, log: log}
}

// Run handles messages until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}
	w.log.Info("worker started, waiting for messages")
	for msg := range messages {
		w.handle(ctx, msg)
	}
	w.log.Info("worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	evt, err := queue.DecodeScanEvent(msg)
	if err != nil {
		w.log.Warn("dropping message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, bucketTimeout)
	defer cancel()

	rep, err := w.svc.CheckBucket(ctx, evt.ClassID, evt.Date)
	if err != nil {
		w.log.Error("bucket check failed",
			zap.String("class_id", evt.ClassID),
			zap.String("date", evt.Date),
			zap.Error(err))
		return
	}
	w.log.Debug("bucket checked",
		zap.String("class_id", evt.ClassID),
		zap.String("date", evt.Date),
		zap.String("record_id", evt.RecordID),
		zap.Bool("suspicious", rep.IsSuspicious))
}

// Sweep checks today's bucket of every class once.
func (w *Worker) Sweep(ctx context.Context) {
	start := time.Now()
	n, err := w.svc.SweepToday(ctx)
	if err != nil {
		w.log.Error("sweep failed", zap.Int("checked", n), zap.Error(err))
		return
	}
	w.log.Info("sweep done", zap.Int("checked", n), zap.Duration("took", time.Since(start)))
}

// Schedule registers Sweep under spec, evaluated in loc. The caller starts
// and stops the returned scheduler. Overlapping runs are skipped.
func (w *Worker) Schedule(spec string, loc *time.Location) (*cron.Cron, error) {
	if loc == nil {
		loc = time.UTC
	}
	logger := cronLogger{w.log.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		w.Sweep(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	return c, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
