package update

import (
	"context"
	"fmt"

	"strata/internal/generation"
	"strata/internal/logging"
)

// Invoker calls the adapted plugin once per finalized generation. The call
// is synchronous on the caller's goroutine: the update computation is
// expected to exploit the engine's parallelism internally, so the
// orchestrator only sequences it. There is no retry; a plugin error is the
// generation's failure.
type Invoker struct {
	plugin   BatchUpdate
	modelDir string
}

func NewInvoker(plugin BatchUpdate, modelDir string) *Invoker {
	return &Invoker{plugin: plugin, modelDir: modelDir}
}

func (i *Invoker) Invoke(ctx context.Context, ds *generation.Dataset, res generation.WriteResult) error {
	task := Task{
		Generation: ds.Generation,
		Records:    ds.Records(),
		DataPath:   res.Path,
		ModelDir:   i.modelDir,
	}
	delta, err := i.plugin.Apply(ctx, task)
	if err != nil {
		return fmt.Errorf("update: apply generation %d: %w", ds.Generation.ID, err)
	}
	if delta == nil {
		logging.L().Debug("no model delta", "generation", ds.Generation.ID)
		return nil
	}
	logging.L().Info("model delta produced",
		"generation", delta.GenerationID, "location", delta.Location)
	return nil
}
