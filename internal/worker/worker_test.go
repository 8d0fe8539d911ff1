package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"qrattend/internal/attendance"
	"qrattend/internal/queue"
)

type fakeChecker struct {
	mu      sync.Mutex
	buckets []string
	sweeps  int
	failFor string
	done    chan struct{}
}

func (f *fakeChecker) CheckBucket(_ context.Context, classID, date string) (attendance.SuspiciousReport, error) {
	f.mu.Lock()
	f.buckets = append(f.buckets, classID+"/"+date)
	f.mu.Unlock()
	defer func() { f.done <- struct{}{} }()
	if classID == f.failFor {
		return attendance.SuspiciousReport{}, errors.New("store down")
	}
	return attendance.SuspiciousReport{}, nil
}

func (f *fakeChecker) SweepToday(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 4, nil
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bucket check")
	}
}

func TestRunChecksPublishedBuckets(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	q := queue.NewInMemory(8)
	chk := &fakeChecker{failFor: "bad", done: make(chan struct{}, 8)}
	w := New(q, chk, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- w.Run(ctx) }()

	publish := func(e queue.ScanEvent) {
		msg, err := queue.NewScanMessage(e)
		if err != nil {
			t.Fatal(err)
		}
		if err := q.Publish(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	_ = q.Publish(ctx, queue.Message{Type: "checkin", Body: []byte("x")})
	publish(queue.ScanEvent{ClassID: "c1", Date: "2024-07-17", RecordID: "r1"})
	waitDone(t, chk.done)
	publish(queue.ScanEvent{ClassID: "bad", Date: "2024-07-17"})
	waitDone(t, chk.done)

	cancel()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	chk.mu.Lock()
	got := chk.buckets
	chk.mu.Unlock()
	if len(got) != 2 || got[0] != "c1/2024-07-17" || got[1] != "bad/2024-07-17" {
		t.Fatalf("checked buckets = %v", got)
	}
	if logs.FilterMessage("dropping message").Len() != 1 {
		t.Fatal("unknown message type should be dropped with a warning")
	}
	if logs.FilterMessage("bucket check failed").Len() != 1 {
		t.Fatal("failed check should be logged")
	}
}

func TestSchedule(t *testing.T) {
	chk := &fakeChecker{done: make(chan struct{}, 1)}
	w := New(queue.NewInMemory(1), chk, nil)

	if _, err := w.Schedule("not a spec", time.UTC); err == nil {
		t.Fatal("expected error for a bad cron spec")
	}
	c, err := w.Schedule("55 23 * * *", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(c.Entries()); n != 1 {
		t.Fatalf("entries = %d", n)
	}
	c.Entries()[0].Job.Run()
	if chk.sweeps != 1 {
		t.Fatalf("sweeps = %d", chk.sweeps)
	}
}
