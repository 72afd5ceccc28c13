package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Recorder writes executions to whichever sinks are configured. Both are optional.
type Recorder struct {
	store     *ClickHouseStore
	publisher *Publisher
}

func NewRecorder(store *ClickHouseStore, publisher *Publisher) *Recorder {
	return &Recorder{store: store, publisher: publisher}
}

func (r *Recorder) Enabled() bool { return r.store != nil || r.publisher != nil }

// RecordExecution tries every sink and joins their errors.
func (r *Recorder) RecordExecution(ctx context.Context, e *Execution) error {
	var errs []error
	if r.store != nil {
		if err := r.store.InsertExecution(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishExecution(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
