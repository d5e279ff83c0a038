package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// idlePoll is the debounce used when the queue is empty or trading
	// is disabled. Not a backoff; the queue fills from another worker.
	idlePoll = 200 * time.Millisecond

	// messagePause is the transport-level anti-spam gap between two
	// whispers, independent of the per-counterparty no-spam window.
	messagePause = 3 * time.Second

	// defaultStaleWindow: entries queued while trading stays disabled
	// longer than this are based on minute-old offers and get discarded.
	defaultStaleWindow = 60 * time.Second
)

// Sender delivers one whisper to the game surface.
type Sender interface {
	SendWhisper(ctx context.Context, whisper string) error
}

// ContactStore persists delivery timestamps.
type ContactStore interface {
	TouchContact(accountName string, at time.Time) error
}

// Worker is the single queue consumer.
type Worker struct {
	queue       *Queue
	enabled     *atomic.Bool
	sender      Sender
	store       ContactStore
	staleWindow time.Duration
	logger      *slog.Logger
}

func NewWorker(queue *Queue, enabled *atomic.Bool, sender Sender, store ContactStore, logger *slog.Logger) *Worker {
	return &Worker{
		queue:       queue,
		enabled:     enabled,
		sender:      sender,
		store:       store,
		staleWindow: defaultStaleWindow,
		logger:      logger.With("component", "dispatch"),
	}
}

// Run consumes the queue until the context is cancelled. While trading
// is disabled it idles; once the disable outlasts the stale window
// with entries still queued, the queue is cleared in one shot.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Dispatch worker started")
	var disabledSince time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !w.enabled.Load() {
			if disabledSince.IsZero() {
				disabledSince = time.Now()
			}
			if w.queue.Len() > 0 && time.Since(disabledSince) > w.staleWindow {
				n := w.queue.Clear()
				w.logger.Info("Cleared stale whisper queue", "dropped", n)
			}
			sleep(ctx, idlePoll)
			continue
		}
		disabledSince = time.Time{}

		entry, ok := w.queue.Pop()
		if !ok {
			sleep(ctx, idlePoll)
			continue
		}

		cp := entry.Counterparty
		if err := w.sender.SendWhisper(ctx, entry.Whisper); err != nil {
			w.logger.Error("Whisper delivery failed", "account", cp.AccountName, "error", err)
			continue
		}
		w.logger.Info("Sent whisper", "account", cp.AccountName, "char", cp.LastCharName, "item", cp.ItemID)

		if err := w.store.TouchContact(cp.AccountName, time.Now()); err != nil {
			w.logger.Error("Failed to persist last contact", "account", cp.AccountName, "error", err)
		}

		sleep(ctx, messagePause)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
