package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TypeRecord is the asynq task type carrying a Record.
const TypeRecord = "reconcile:record"

// NewTask encodes rec as an asynq task.
func NewTask(rec Record) (*asynq.Task, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode reconcile record: %w", err)
	}
	return asynq.NewTask(TypeRecord, payload), nil
}

// AsyncRecorder enqueues records for the worker. The sale ID is used as the
// task ID so a sale is only queued once.
type AsyncRecorder struct {
	Client   *asynq.Client
	Queue    string
	MaxRetry int
	Retain   time.Duration
}

func (r AsyncRecorder) Record(ctx context.Context, rec Record) error {
	if r.Client == nil {
		return errors.New("reconcile: task client not configured")
	}
	task, err := NewTask(rec)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(TypeRecord + ":" + rec.SaleID)}
	if r.Queue != "" {
		opts = append(opts, asynq.Queue(r.Queue))
	}
	if r.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(r.MaxRetry))
	}
	if r.Retain > 0 {
		opts = append(opts, asynq.Retention(r.Retain))
	}
	_, err = r.Client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// TaskHandler persists records delivered by the queue.
type TaskHandler struct {
	Store Store
}

// ProcessTask implements asynq.Handler.
func (h TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var rec Record
	if err := json.Unmarshal(t.Payload(), &rec); err != nil {
		return fmt.Errorf("decode reconcile record: %v: %w", err, asynq.SkipRetry)
	}
	if rec.SaleID == "" {
		return fmt.Errorf("reconcile record without sale id: %w", asynq.SkipRetry)
	}
	return StoreRecorder{Store: h.Store}.Record(ctx, rec)
}
