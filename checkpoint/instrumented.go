package checkpoint

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/state"
)

// Observer receives one call per store operation.
type Observer interface {
	ObserveCheckpoint(op string, d time.Duration, err error)
}

type instrumented struct {
	Store
	obs    Observer
	logger *zap.Logger
}

// Instrument wraps s so that every operation is reported to obs and failures
// are logged. A nil obs only adds logging.
func Instrument(s Store, obs Observer, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &instrumented{
		Store:  s,
		obs:    obs,
		logger: logger.With(zap.String("component", "checkpoint")),
	}
}

func (i *instrumented) observe(op, runID string, start time.Time, err error) {
	d := time.Since(start)
	if i.obs != nil {
		i.obs.ObserveCheckpoint(op, d, err)
	}
	if err != nil {
		i.logger.Warn("checkpoint operation failed",
			zap.String("op", op),
			zap.String("run_id", runID),
			zap.Duration("duration", d),
			zap.Error(err),
		)
		return
	}
	i.logger.Debug("checkpoint operation",
		zap.String("op", op),
		zap.String("run_id", runID),
		zap.Duration("duration", d),
	)
}

func (i *instrumented) Save(ctx context.Context, runID string, rs *state.RunState) error {
	start := time.Now()
	err := i.Store.Save(ctx, runID, rs)
	i.observe("save", runID, start, err)
	return err
}

func (i *instrumented) Load(ctx context.Context, runID string) (*state.RunState, error) {
	start := time.Now()
	rs, err := i.Store.Load(ctx, runID)
	i.observe("load", runID, start, err)
	return rs, err
}

func (i *instrumented) Delete(ctx context.Context, runID string) error {
	start := time.Now()
	err := i.Store.Delete(ctx, runID)
	i.observe("delete", runID, start, err)
	return err
}

func (i *instrumented) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := i.Store.List(ctx)
	i.observe("list", "", start, err)
	return ids, err
}
