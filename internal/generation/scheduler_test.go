package generation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type event struct {
	kind string // "write", "invoke", "commit"
	id   int64
	n    int
}

// fakePipeline plays writer, invoker and committer, recording call order.
type fakePipeline struct {
	mu     sync.Mutex
	events []event
	seen   chan event

	writeErr  func(id int64) error
	invokeErr func(id int64) error

	inflight    int
	maxInflight int
	writeDelay  time.Duration
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{seen: make(chan event, 256)}
}

func (f *fakePipeline) record(ev event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	f.seen <- ev
}

func (f *fakePipeline) Write(_ context.Context, ds *Dataset) (WriteResult, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()
	if f.writeDelay > 0 {
		time.Sleep(f.writeDelay)
	}
	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()

	if f.writeErr != nil {
		if err := f.writeErr(ds.Generation.ID); err != nil {
			return WriteResult{}, err
		}
	}
	f.record(event{"write", ds.Generation.ID, ds.Len()})
	return WriteResult{Path: fmt.Sprintf("/data/%d", ds.Generation.ID), ShardCount: 2, Records: int64(ds.Len())}, nil
}

func (f *fakePipeline) Invoke(_ context.Context, ds *Dataset, _ WriteResult) error {
	if f.invokeErr != nil {
		if err := f.invokeErr(ds.Generation.ID); err != nil {
			return err
		}
	}
	f.record(event{"invoke", ds.Generation.ID, ds.Len()})
	return nil
}

func (f *fakePipeline) CommitGeneration(_ context.Context, offsets map[int32]OffsetRange) error {
	f.record(event{"commit", -1, len(offsets)})
	return nil
}

func (f *fakePipeline) snapshot() []event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event(nil), f.events...)
}

// waitFor blocks until an event matching the predicate has been observed.
func (f *fakePipeline) waitFor(t *testing.T, pred func(event) bool) event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-f.seen:
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event; saw %v", f.snapshot())
		}
	}
}

func startScheduler(t *testing.T, fp *fakePipeline, cfg Config) (*Scheduler, context.CancelFunc) {
	t.Helper()
	if cfg.GenerationInterval == 0 {
		cfg.GenerationInterval = 40 * time.Millisecond
	}
	if cfg.BlockInterval == 0 {
		cfg.BlockInterval = 10 * time.Millisecond
	}
	s := NewScheduler(cfg, fp, fp, fp)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
	return s, cancel
}

func TestScheduler_EmptyWindowsStillWriteAndInvoke(t *testing.T) {
	fp := newFakePipeline()
	startScheduler(t, fp, Config{})

	fp.waitFor(t, func(ev event) bool { return ev.kind == "invoke" && ev.id == 1 })

	var writes, invokes []event
	for _, ev := range fp.snapshot() {
		switch ev.kind {
		case "write":
			writes = append(writes, ev)
		case "invoke":
			invokes = append(invokes, ev)
		}
	}
	for i, ev := range writes {
		if ev.id != int64(i) {
			t.Fatalf("write ids not gapless: %v", writes)
		}
		if ev.n != 0 {
			t.Fatalf("expected empty dataset, got %d records", ev.n)
		}
	}
	if len(invokes) < 2 {
		t.Fatalf("expected at least 2 invocations, got %d", len(invokes))
	}
}

func TestScheduler_WriteHappensBeforeInvoke(t *testing.T) {
	fp := newFakePipeline()
	s, _ := startScheduler(t, fp, Config{})

	for i := 0; i < 5; i++ {
		if err := s.Submit(Record{Key: []byte("k"), Message: []byte("m"), Partition: 0, Offset: int64(i)}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	fp.waitFor(t, func(ev event) bool { return ev.kind == "invoke" && ev.id == 2 })

	pos := map[string]int{}
	for i, ev := range fp.snapshot() {
		pos[fmt.Sprintf("%s/%d", ev.kind, ev.id)] = i
	}
	for id := int64(0); id <= 2; id++ {
		w, okW := pos[fmt.Sprintf("write/%d", id)]
		iv, okI := pos[fmt.Sprintf("invoke/%d", id)]
		if !okW || !okI {
			t.Fatalf("generation %d missing write or invoke: %v", id, fp.snapshot())
		}
		if w >= iv {
			t.Fatalf("generation %d invoked before written", id)
		}
	}
}

func TestScheduler_RecordsBelongToExactlyOneGeneration(t *testing.T) {
	fp := newFakePipeline()
	s, _ := startScheduler(t, fp, Config{GenerationInterval: 60 * time.Millisecond, BlockInterval: 15 * time.Millisecond})

	const total = 40
	go func() {
		for i := 0; i < total; i++ {
			_ = s.Submit(Record{Partition: 0, Offset: int64(i)})
			time.Sleep(4 * time.Millisecond)
		}
	}()

	fp.waitFor(t, func(ev event) bool { return ev.kind == "invoke" && ev.id >= 3 })

	sum := 0
	for _, ev := range fp.snapshot() {
		if ev.kind == "write" {
			sum += ev.n
		}
	}
	if sum > total {
		t.Fatalf("records duplicated across generations: wrote %d of %d submitted", sum, total)
	}
}

func TestScheduler_FailedGenerationIsSkippedNextProceeds(t *testing.T) {
	fp := newFakePipeline()
	fp.invokeErr = func(id int64) error {
		if id == 0 {
			return fmt.Errorf("plugin exploded")
		}
		return nil
	}

	var mu sync.Mutex
	terminal := map[int64]State{}
	s := NewScheduler(Config{GenerationInterval: 40 * time.Millisecond, BlockInterval: 10 * time.Millisecond}, fp, fp, fp)
	s.Observe(func(g Generation, st State) {
		if st == StateDone || st == StateFailed {
			mu.Lock()
			terminal[g.ID] = st
			mu.Unlock()
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	fp.waitFor(t, func(ev event) bool { return ev.kind == "invoke" && ev.id == 1 })

	mu.Lock()
	defer mu.Unlock()
	if terminal[0] != StateFailed {
		t.Fatalf("generation 0: want failed, got %v", terminal[0])
	}
	if terminal[1] != StateDone {
		t.Fatalf("generation 1: want done, got %v", terminal[1])
	}
}

func TestScheduler_CommitOnlyForDoneGenerationsWithRecords(t *testing.T) {
	fp := newFakePipeline()
	s, _ := startScheduler(t, fp, Config{})

	if err := s.Submit(Record{Partition: 1, Offset: 7}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fp.waitFor(t, func(ev event) bool { return ev.kind == "commit" })

	events := fp.snapshot()
	commitAt, invokeAt := -1, -1
	for i, ev := range events {
		switch {
		case ev.kind == "commit" && commitAt < 0:
			commitAt = i
		case ev.kind == "invoke" && invokeAt < 0:
			invokeAt = i
		}
	}
	if commitAt < 0 || invokeAt < 0 || commitAt < invokeAt {
		t.Fatalf("want commit after the generation's invoke, got %v", events)
	}
	if events[commitAt].n != 1 {
		t.Fatalf("want commit covering 1 partition, got %v", events[commitAt])
	}
}

func TestScheduler_SingleFlightWriting(t *testing.T) {
	fp := newFakePipeline()
	fp.writeDelay = 90 * time.Millisecond // longer than the generation interval
	startScheduler(t, fp, Config{GenerationInterval: 30 * time.Millisecond, BlockInterval: 10 * time.Millisecond})

	fp.waitFor(t, func(ev event) bool { return ev.kind == "invoke" && ev.id == 2 })

	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.maxInflight != 1 {
		t.Fatalf("want at most one write in flight, saw %d", fp.maxInflight)
	}
}

func TestScheduler_SubmitAfterStop(t *testing.T) {
	fp := newFakePipeline()
	s, cancel := startScheduler(t, fp, Config{})
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := s.Submit(Record{}); err == ErrStopped {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("submit never observed scheduler stop")
}
