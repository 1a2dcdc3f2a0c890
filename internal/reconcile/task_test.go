package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/reconcile"
)

func TestTaskRoundTripThroughHandler(t *testing.T) {
	rec := reconcile.Build("s1", "B-1", "sess", "cashier", preview(), reconcile.Amounts{
		Subtotal: dec("200"), Discount: dec("20"), Tax: dec("32.40"), Total: dec("212.40"),
	}, time.Now())
	task, err := reconcile.NewTask(rec)
	require.NoError(t, err)
	require.Equal(t, reconcile.TypeRecord, task.Type())

	store := reconcile.NewMemoryStore()
	require.NoError(t, reconcile.TaskHandler{Store: store}.ProcessTask(context.Background(), task))

	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, got.ServerTotal.Equal(dec("212.40")))
	require.False(t, got.Mismatch())
}

func TestHandlerSkipsRetryForBadPayload(t *testing.T) {
	h := reconcile.TaskHandler{Store: reconcile.NewMemoryStore()}
	err := h.ProcessTask(context.Background(), asynq.NewTask(reconcile.TypeRecord, []byte("{")))
	require.True(t, errors.Is(err, asynq.SkipRetry))

	err = h.ProcessTask(context.Background(), asynq.NewTask(reconcile.TypeRecord, []byte(`{"billNumber":"x"}`)))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestAsyncRecorderRequiresClient(t *testing.T) {
	err := reconcile.AsyncRecorder{}.Record(context.Background(), reconcile.Record{SaleID: "s"})
	require.Error(t, err)
}
