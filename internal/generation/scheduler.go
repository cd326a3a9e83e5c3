package generation

import (
	"context"
	"errors"
	"time"

	"strata/internal/logging"
	"strata/internal/telemetry"
)

// WriteResult describes one generation's durable output.
type WriteResult struct {
	Path       string
	ShardCount int
	Records    int64
}

// Writer persists a finalized generation's dataset. The write must be
// complete (marker on disk) before it returns nil.
type Writer interface {
	Write(ctx context.Context, ds *Dataset) (WriteResult, error)
}

// Invoker runs the update computation for one finalized generation.
type Invoker interface {
	Invoke(ctx context.Context, ds *Dataset, res WriteResult) error
}

// Committer advances consumer offset state for a completed generation.
type Committer interface {
	CommitGeneration(ctx context.Context, offsets map[int32]OffsetRange) error
}

type Config struct {
	GenerationInterval time.Duration
	BlockInterval      time.Duration
	BufferSize         int
}

var ErrStopped = errors.New("scheduler: stopped")

// Scheduler converts continuous record arrival into discrete generations.
// One control goroutine owns the state machine; the write and invoke phases
// run inline on it, which is the single-flight gate: generation N+1 cannot
// enter Writing before N is Done or Failed.
type Scheduler struct {
	cfg       Config
	writer    Writer
	invoker   Invoker
	committer Committer

	in      chan Record
	stopped chan struct{}

	observer func(Generation, State)
}

func NewScheduler(cfg Config, w Writer, i Invoker, c Committer) *Scheduler {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	return &Scheduler{
		cfg:       cfg,
		writer:    w,
		invoker:   i,
		committer: c,
		in:        make(chan Record, cfg.BufferSize),
		stopped:   make(chan struct{}),
	}
}

// Observe registers a transition hook. Must be called before Run.
func (s *Scheduler) Observe(fn func(Generation, State)) { s.observer = fn }

// Submit hands one record to the open generation. It blocks when the buffer
// is full, which backpressures the consumer while the control goroutine is
// mid write or invoke.
func (s *Scheduler) Submit(rec Record) error {
	select {
	case s.in <- rec:
		return nil
	case <-s.stopped:
		return ErrStopped
	}
}

// Run drives the per-generation state machine until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stopped)

	genTicker := time.NewTicker(s.cfg.GenerationInterval)
	defer genTicker.Stop()
	blockTicker := time.NewTicker(s.cfg.BlockInterval)
	defer blockTicker.Stop()

	start := time.Now()
	cur := NewDataset(0, start, start.Add(s.cfg.GenerationInterval))
	s.notify(cur.Generation, StateAccumulating)

	for {
		select {
		case <-ctx.Done():
			// The open window never closed; its records were neither
			// written nor committed, matching the tail-start resume
			// policy on the next connect.
			return nil

		case rec := <-s.in:
			cur.Append(rec)

		case <-blockTicker.C:
			cur.sealBlock()

		case <-genTicker.C:
			// Records already queued at the tick belong to the closing
			// window; the boundary is the drained set, so assignment is
			// deterministic and never overlaps.
			s.drain(cur)
			cur.finalize()
			s.notify(cur.Generation, StateFinalized)

			next := NewDataset(cur.Generation.ID+1, cur.Generation.WindowEnd,
				cur.Generation.WindowEnd.Add(s.cfg.GenerationInterval))

			s.process(ctx, cur)

			cur = next
			s.notify(cur.Generation, StateAccumulating)
		}
	}
}

func (s *Scheduler) drain(d *Dataset) {
	for {
		select {
		case rec := <-s.in:
			d.Append(rec)
		default:
			return
		}
	}
}

// process runs Writing → Invoking → Done for one finalized generation, or
// marks it Failed and moves on. Failures are isolated: the pipeline always
// advances to the next generation.
func (s *Scheduler) process(ctx context.Context, d *Dataset) {
	gen := d.Generation
	logging.L().Info("generation finalized",
		"id", gen.ID,
		"window_start", gen.WindowStart,
		"window_end", gen.WindowEnd,
		"records", d.Len(),
		"blocks", len(d.Blocks()))

	s.notify(gen, StateWriting)
	t0 := time.Now()
	res, err := s.writer.Write(ctx, d)
	telemetry.GenerationDuration.WithLabelValues("write").Observe(time.Since(t0).Seconds())
	if err != nil {
		s.fail(gen, "write", err)
		return
	}

	s.notify(gen, StateInvoking)
	t1 := time.Now()
	err = s.invoker.Invoke(ctx, d, res)
	telemetry.GenerationDuration.WithLabelValues("invoke").Observe(time.Since(t1).Seconds())
	if err != nil {
		s.fail(gen, "invoke", err)
		return
	}

	if s.committer != nil && len(gen.Offsets) > 0 {
		if err := s.committer.CommitGeneration(ctx, gen.Offsets); err != nil {
			// Commit is best-effort: the generation is already durable and
			// invoked, and a fresh connect starts at the tail regardless.
			logging.L().Warn("generation offset commit failed", "id", gen.ID, "err", err)
		}
	}

	s.notify(gen, StateDone)
	telemetry.GenerationsFinalized.WithLabelValues("done").Inc()
	logging.L().Info("generation done", "id", gen.ID, "path", res.Path, "shards", res.ShardCount)
}

func (s *Scheduler) fail(gen Generation, phase string, err error) {
	s.notify(gen, StateFailed)
	telemetry.GenerationsFinalized.WithLabelValues("failed").Inc()
	logging.L().Error("generation failed; skipping", "id", gen.ID, "phase", phase, "err", err)
}

func (s *Scheduler) notify(gen Generation, st State) {
	if s.observer != nil {
		s.observer(gen, st)
	}
}
