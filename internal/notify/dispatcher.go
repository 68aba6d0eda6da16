// ABOUTME: Best-effort asynchronous notification dispatch
// ABOUTME: Sends outlive the request that triggered them; failures are logged and dropped

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OutcomeRecorder receives the result of each dispatch.
type OutcomeRecorder interface {
	RecordNotification(outcome string)
}

// Dispatch outcomes passed to OutcomeRecorder.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// Dispatcher runs sends in the background, each bounded by a timeout.
type Dispatcher struct {
	sender   Sender
	timeout  time.Duration
	logger   *slog.Logger
	recorder OutcomeRecorder

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A zero timeout uses DefaultTimeout.
// recorder may be nil.
func NewDispatcher(sender Sender, timeout time.Duration, logger *slog.Logger, recorder OutcomeRecorder) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:   sender,
		timeout:  timeout,
		logger:   logger.With("component", "notify"),
		recorder: recorder,
	}
}

// Dispatch starts delivering msg and returns its dispatch id immediately.
// The send keeps ctx's values but not its cancellation.
// After Close, messages are dropped and counted as failed.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) string {
	id := uuid.New().String()
	sendCtx := context.WithoutCancel(ctx)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dropping notification", "dispatch_id", id, "to", msg.To)
		d.record(OutcomeFailed)
		return id
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.send(sendCtx, id, msg)
	}()
	return id
}

func (d *Dispatcher) send(ctx context.Context, id string, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sender panicked", "dispatch_id", id, "panic", r)
			d.record(OutcomeFailed)
		}
	}()

	if err := d.sender.Send(ctx, msg); err != nil {
		d.logger.Error("failed to send notification", "dispatch_id", id, "to", msg.To, "error", err)
		d.record(OutcomeFailed)
		return
	}
	d.logger.Debug("notification sent", "dispatch_id", id, "to", msg.To)
	d.record(OutcomeSent)
}

func (d *Dispatcher) record(outcome string) {
	if d.recorder != nil {
		d.recorder.RecordNotification(outcome)
	}
}

// Wait blocks until every dispatched send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting new sends. Sends already started keep running; use Wait to drain them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}
