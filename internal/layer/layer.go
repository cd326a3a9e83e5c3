package layer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"strata/internal/config"
	"strata/internal/engine"
	"strata/internal/generation"
	"strata/internal/logging"
	"strata/internal/storage"
	"strata/internal/update"
	"strata/source/kafka"
)

var (
	ErrNotStarted     = errors.New("layer: not started")
	ErrAlreadyStarted = errors.New("layer: already started")
	ErrClosed         = errors.New("layer: closed")
)

type lifecycle uint8

const (
	lifecycleNew lifecycle = iota
	lifecycleStarted
	lifecycleClosed
)

// BatchLayer owns the consumer, scheduler, writer, invoker and the engine
// resource. Its externally callable API is Start, Await and Close.
type BatchLayer struct {
	cfg *config.Config

	mu    sync.Mutex
	state lifecycle

	res      *engine.Resource
	consumer kafka.Adapter

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// New validates cfg, including the decoder/class pairing, and builds an
// unstarted layer. All configuration failures surface here, before any
// resource exists.
func New(cfg *config.Config) (*BatchLayer, error) {
	if cfg == nil {
		return nil, errors.New("layer: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := kafka.ValidateDecoder(cfg.Input.KeyDecoder, cfg.Input.KeyClass); err != nil {
		return nil, err
	}
	if err := kafka.ValidateDecoder(cfg.Input.MessageDecoder, cfg.Input.MessageClass); err != nil {
		return nil, err
	}
	return &BatchLayer{cfg: cfg, done: make(chan struct{})}, nil
}

// Start may be called at most once per instance. It builds the engine
// resource, loads the update plugin, wires consumer → scheduler → writer →
// invoker and begins the generation timer. Plugin-load failure is fatal.
func (b *BatchLayer) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case lifecycleStarted:
		return ErrAlreadyStarted
	case lifecycleClosed:
		return ErrClosed
	}

	cfg := b.cfg
	logging.L().Info("starting batch layer",
		"master", cfg.Streaming.Master,
		"topic", cfg.Input.Topic,
		"generation_interval", cfg.GenerationInterval(),
		"block_interval", cfg.BlockInterval())

	res, err := engine.Start(engine.Config{
		Master:      cfg.Streaming.Master,
		UIPort:      cfg.UI.Port,
		ControlPort: cfg.Engine.ControlPort,
		Workers:     cfg.Storage.Partitions,
		StopBound:   cfg.BlockInterval(),
	})
	if err != nil {
		return err
	}

	plugin, err := update.Load(cfg.UpdateClass, cfg)
	if err != nil {
		_ = res.Stop(ctx)
		return err
	}

	consumer, err := kafka.NewAdapter(cfg.Input.Driver)
	if err != nil {
		_ = res.Stop(ctx)
		return err
	}
	if err := consumer.Configure(kafka.Config{
		Brokers:        strings.Split(cfg.Lock.Master, ","),
		Topic:          cfg.Input.Topic,
		ClientID:       "strata-batch",
		KeyDecoder:     cfg.Input.KeyDecoder,
		MessageDecoder: cfg.Input.MessageDecoder,
	}); err != nil {
		_ = res.Stop(ctx)
		return err
	}

	writer, err := storage.NewWriter(cfg.Storage.DataDir, cfg.Storage.Partitions,
		cfg.Storage.KeyWritableClass, cfg.Storage.MessageWritableClass, res)
	if err != nil {
		_ = consumer.Close()
		_ = res.Stop(ctx)
		return err
	}
	invoker := update.NewInvoker(plugin, cfg.Storage.ModelDir)

	sched := generation.NewScheduler(generation.Config{
		GenerationInterval: cfg.GenerationInterval(),
		BlockInterval:      cfg.BlockInterval(),
	}, writer, invoker, consumer)

	runCtx, cancel := context.WithCancel(context.Background())
	b.res, b.consumer, b.cancel = res, consumer, cancel

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		_ = sched.Run(runCtx)
	}()
	go func() {
		defer b.wg.Done()
		err := consumer.Run(runCtx, sched.Submit)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, generation.ErrStopped) {
			logging.L().Error("consumer stopped; shutting down", "err", err)
			go b.Close()
		}
	}()

	b.state = lifecycleStarted
	return nil
}

// Await blocks until Close is observed. It requires Start to have
// completed and returns nil on clean shutdown.
func (b *BatchLayer) Await() error {
	b.mu.Lock()
	if b.state == lifecycleNew {
		b.mu.Unlock()
		return ErrNotStarted
	}
	done := b.done
	b.mu.Unlock()

	<-done
	return nil
}

// Close is idempotent: a no-op when never started or already closed.
// Otherwise it requests a graceful stop with the block interval as the wait
// bound, forces shutdown past it, releases the engine resource and unblocks
// any waiter in Await.
func (b *BatchLayer) Close() error {
	b.mu.Lock()
	if b.state == lifecycleClosed {
		b.mu.Unlock()
		return nil
	}
	prev := b.state
	b.state = lifecycleClosed
	b.mu.Unlock()

	if prev == lifecycleNew {
		close(b.done)
		return nil
	}

	logging.L().Info("shutting down batch layer")
	b.cancel()

	stopped := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(b.cfg.BlockInterval()):
		logging.L().Warn("graceful stop exceeded block interval; forcing",
			"bound", b.cfg.BlockInterval())
	}

	_ = b.consumer.Close()
	_ = b.res.Stop(context.Background())
	close(b.done)
	return nil
}
