// Package reconcile re-derives booking state from payment state. The payment
// and booking writes on the hot paths happen inside one transaction, but a
// crash between an out-of-band mutation and its projection would still leave
// the booking stale; every paid/refunded transition therefore also enqueues a
// sync task that recomputes the projection idempotently and retries until
// consistent.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TypeBookingSync is the asynq task type for booking projection sync.
const TypeBookingSync = "booking:sync"

type bookingSyncPayload struct {
	BookingID string `json:"bookingId"`
}

// Broker is the asynq client surface the enqueuer needs. Satisfied by
// *asynq.Client.
type Broker interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer schedules booking sync tasks on the asynq queue.
type Enqueuer struct {
	Client Broker
	// MaxRetry bounds asynq-side retries; exponential backoff between attempts.
	MaxRetry int
}

// EnqueueBookingSync schedules a projection sync for the booking. The task id
// is derived from the booking id so duplicate enqueues within the retention
// window collapse into one task.
func (e Enqueuer) EnqueueBookingSync(ctx context.Context, bookingID uuid.UUID) error {
	if e.Client == nil {
		return nil
	}
	payload, err := json.Marshal(bookingSyncPayload{BookingID: bookingID.String()})
	if err != nil {
		return err
	}
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 10
	}
	task := asynq.NewTask(TypeBookingSync, payload)
	_, err = e.Client.EnqueueContext(ctx, task,
		asynq.TaskID("booking-sync-"+bookingID.String()),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(30*time.Second),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// a sync for this booking is already queued; it will observe the
		// latest payment state when it runs
		return nil
	}
	return err
}

// Syncer recomputes a booking's payment projection from the payment ledger.
type Syncer interface {
	SyncBooking(ctx context.Context, bookingID uuid.UUID) error
}

// Worker processes booking sync tasks.
type Worker struct {
	Syncer Syncer
	Logger zerolog.Logger
}

// Handle implements asynq.Handler for TypeBookingSync. Returning an error makes
// asynq retry with backoff, which is exactly the "retry until consistent"
// behavior the projection needs.
func (w Worker) Handle(ctx context.Context, task *asynq.Task) error {
	var payload bookingSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode booking sync payload: %v: %w", err, asynq.SkipRetry)
	}
	bookingID, err := uuid.Parse(payload.BookingID)
	if err != nil {
		return fmt.Errorf("invalid booking id %q: %w", payload.BookingID, asynq.SkipRetry)
	}
	if err := w.Syncer.SyncBooking(ctx, bookingID); err != nil {
		w.Logger.Warn().Err(err).Str("booking_id", bookingID.String()).Msg("booking sync failed, will retry")
		return err
	}
	w.Logger.Debug().Str("booking_id", bookingID.String()).Msg("booking projection synced")
	return nil
}

// Mux returns an asynq.ServeMux with the worker's handlers registered.
func (w Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeBookingSync, w.Handle)
	return mux
}
