package update

import (
	"context"
	"errors"
	"fmt"

	"strata/internal/config"
	"strata/internal/generation"
)

// Task is one generation's update work item. It is consumed once and never
// persisted.
type Task struct {
	Generation generation.Generation
	Records    []generation.Record
	DataPath   string // where this generation's raw input landed
	ModelDir   string // prior model location root
}

// ModelDelta is the artifact produced by one generation's update invocation.
type ModelDelta struct {
	GenerationID int64
	Location     string
}

// BatchUpdate is the native plugin capability: one call per generation with
// the generation's dataset and the prior model location. A nil delta means
// the plugin produced no output for this generation.
type BatchUpdate interface {
	Apply(ctx context.Context, task Task) (*ModelDelta, error)
}

// StreamingUpdate is the alternate calling convention some plugins ship
// with: unpacked arguments, delta reported as a bare location. Instances are
// wrapped so the rest of the system only ever sees BatchUpdate.
type StreamingUpdate interface {
	Update(ctx context.Context, generationID int64, dataPath, modelDir string) (string, error)
}

// foreignAdapter implements BatchUpdate by delegating to a StreamingUpdate
// and translating argument and result shapes.
type foreignAdapter struct {
	inner StreamingUpdate
}

func (a *foreignAdapter) Apply(ctx context.Context, task Task) (*ModelDelta, error) {
	loc, err := a.inner.Update(ctx, task.Generation.ID, task.DataPath, task.ModelDir)
	if err != nil {
		return nil, err
	}
	if loc == "" {
		return nil, nil
	}
	return &ModelDelta{GenerationID: task.Generation.ID, Location: loc}, nil
}

/*──────────────────────────── registry ────────────────────────────*/

// Entry holds the constructors an update class registers. Construction with
// the configuration is preferred; New is the no-argument fallback.
type Entry struct {
	New           func() any
	NewWithConfig func(cfg *config.Config) any
}

var registry = map[string]Entry{}

// Register is called from a plugin's init() or from main.
func Register(name string, e Entry) {
	registry[name] = e
}

var (
	ErrUnknownPlugin     = errors.New("update: unknown update class")
	ErrUnsupportedPlugin = errors.New("update: unsupported plugin type")
)

// Load resolves and constructs the configured update class. It runs exactly
// once, at startup; a failure here is fatal to Start. The constructed
// instance must implement BatchUpdate or StreamingUpdate; the latter is
// wrapped so callers hold a uniform capability.
func Load(name string, cfg *config.Config) (BatchUpdate, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, name)
	}

	var inst any
	switch {
	case e.NewWithConfig != nil:
		inst = e.NewWithConfig(cfg)
	case e.New != nil:
		inst = e.New()
	default:
		return nil, fmt.Errorf("%w: %q registered without a constructor", ErrUnknownPlugin, name)
	}

	switch p := inst.(type) {
	case BatchUpdate:
		return p, nil
	case StreamingUpdate:
		return &foreignAdapter{inner: p}, nil
	default:
		return nil, fmt.Errorf("%w: %q is %T", ErrUnsupportedPlugin, name, inst)
	}
}
