package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "classes", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
	if err := m.Merge(ctx, "classes", "missing", map[string]any{"a": 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Merge missing = %v, want ErrNotFound", err)
	}

	id, err := m.Add(ctx, "classes", map[string]any{"subject": "DS", "semester": 3})
	if err != nil || id == "" {
		t.Fatalf("Add = %q, %v", id, err)
	}
	if err := m.Merge(ctx, "classes", id, map[string]any{"qrCode": "tok"}); err != nil {
		t.Fatal(err)
	}
	doc, err := m.Get(ctx, "classes", id)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Data["subject"] != "DS" || doc.Data["qrCode"] != "tok" || doc.Data["semester"] != float64(3) {
		t.Fatalf("unexpected data %v", doc.Data)
	}

	// Returned data is a copy.
	doc.Data["subject"] = "changed"
	again, _ := m.Get(ctx, "classes", id)
	if again.Data["subject"] != "DS" {
		t.Fatal("store data was mutated through a returned document")
	}

	if err := m.Delete(ctx, "classes", id); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "classes", id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v", err)
	}
}

func TestMemoryQueryFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "classes", "a", map[string]any{"department": "CSE", "semester": 3})
	_ = m.Set(ctx, "classes", "b", map[string]any{"department": "CSE", "semester": 5})
	_ = m.Set(ctx, "classes", "c", map[string]any{"department": "ECE", "semester": 3})

	docs, err := m.Query(ctx, "classes", Eq("department", "CSE"), Eq("semester", 3))
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != "a" {
		t.Fatalf("got %+v", docs)
	}

	all, _ := m.Query(ctx, "classes")
	if len(all) != 3 || all[0].ID != "a" || all[2].ID != "c" {
		t.Fatalf("unfiltered query = %+v", all)
	}
}

func TestMemoryQueryGroup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, Join("classes", "c1", "attendance", "2024-07-17", "records"), "r1", map[string]any{"studentId": "s1"})
	_ = m.Set(ctx, Join("classes", "c2", "attendance", "2024-07-18", "records"), "r2", map[string]any{"studentId": "s1"})
	_ = m.Set(ctx, Join("classes", "c2", "attendance", "2024-07-18", "records"), "r3", map[string]any{"studentId": "s2"})
	_ = m.Set(ctx, "records_archive", "x", map[string]any{"studentId": "s1"})

	docs, err := m.QueryGroup(ctx, "records", Eq("studentId", "s1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2: %+v", len(docs), docs)
	}
	if docs[0].Collection != "classes/c1/attendance/2024-07-17/records" {
		t.Fatalf("collection path = %q", docs[0].Collection)
	}
}

type snapshots struct {
	mu    sync.Mutex
	sizes []int
	ch    chan int
}

func newSnapshots() *snapshots { return &snapshots{ch: make(chan int, 16)} }

func (s *snapshots) record(docs []Doc, err error) {
	if err != nil {
		return
	}
	s.mu.Lock()
	s.sizes = append(s.sizes, len(docs))
	s.mu.Unlock()
	s.ch <- len(docs)
}

func (s *snapshots) next(t *testing.T) int {
	t.Helper()
	select {
	case n := <-s.ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return -1
	}
}

func TestMemorySubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	coll := Join("classes", "c1", "attendance", "2024-07-17", "records")
	_ = m.Set(ctx, coll, "r1", map[string]any{"studentId": "s1"})

	snaps := newSnapshots()
	sub, err := m.Subscribe(ctx, coll, nil, snaps.record)
	if err != nil {
		t.Fatal(err)
	}
	if n := snaps.next(t); n != 1 {
		t.Fatalf("initial snapshot has %d docs, want 1", n)
	}

	_ = m.Set(ctx, coll, "r2", map[string]any{"studentId": "s2"})
	if n := snaps.next(t); n != 2 {
		t.Fatalf("snapshot after add has %d docs, want 2", n)
	}

	// Writes to other collections do not wake the subscription.
	_ = m.Set(ctx, "classes", "c1", map[string]any{"subject": "DS"})

	sub.Stop()
	sub.Stop()
	if got := m.notifier.listenerCount(coll); got != 0 {
		t.Fatalf("listener still registered after Stop: %d", got)
	}

	_ = m.Set(ctx, coll, "r3", map[string]any{"studentId": "s3"})
	select {
	case n := <-snaps.ch:
		t.Fatalf("received snapshot of %d docs after Stop", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeReleasedWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()
	snaps := newSnapshots()
	sub, err := m.Subscribe(ctx, "classes", nil, snaps.record)
	if err != nil {
		t.Fatal(err)
	}
	snaps.next(t)
	cancel()
	sub.Stop()
	if got := m.notifier.listenerCount("classes"); got != 0 {
		t.Fatalf("listener count = %d", got)
	}
}

func TestGroupAndJoin(t *testing.T) {
	if Group("classes/c1/attendance/2024-07-17/records") != "records" || Group("classes") != "classes" {
		t.Fatal("Group wrong")
	}
	if Join("a", "b") != "a/b" {
		t.Fatal("Join wrong")
	}
	if relativePath("projects/p/databases/(default)/documents/classes/c1/attendance") != "classes/c1/attendance" {
		t.Fatal("relativePath wrong")
	}
}

func TestContainment(t *testing.T) {
	got, err := containment([]Filter{Eq("studentId", "s1"), Eq("semester", 3)})
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"semester":3,"studentId":"s1"}` {
		t.Fatalf("containment = %s", got)
	}
	if empty, _ := containment(nil); empty != "{}" {
		t.Fatalf("empty containment = %s", empty)
	}
}
