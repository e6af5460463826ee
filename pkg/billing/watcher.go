package billing

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/creatorshop/billing/pkg/changefeed"
)

// Watcher maintains a near-real-time view of one user's billing state. It
// performs one read on start, then subscribes to the change feed filtered to
// that user and re-reads the row on every notification. Notifications carry
// no data: the summary is always re-derived from a fresh read so the view
// cannot drift from the store. Watchers never mutate billing rows.
type Watcher struct {
	userID uuid.UUID
	store  SubscriptionStore
	feed   *changefeed.Feed[uuid.UUID]
	log    *slog.Logger

	mu      sync.RWMutex
	current StatusSummary

	updates chan StatusSummary
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher for a single user. Call Start to begin
// receiving updates and Stop to release the feed subscription.
func NewWatcher(store SubscriptionStore, feed *changefeed.Feed[uuid.UUID], userID uuid.UUID, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		userID:  userID,
		store:   store,
		feed:    feed,
		log:     log,
		updates: make(chan StatusSummary, 1),
		done:    make(chan struct{}),
	}
}

// Start performs the initial read and begins following the change feed.
// The watcher stops when ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	if err := w.refresh(ctx); err != nil {
		w.cancel()
		return err
	}

	sub := w.feed.Subscribe(ctx, w.userID)

	go func() {
		defer close(w.done)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.C():
				if !ok {
					return
				}
				// Full re-read, never an incremental patch. A notification
				// arriving mid-read is not debounced; re-reads are
				// idempotent and convergent.
				if err := w.refresh(ctx); err != nil {
					w.log.ErrorContext(ctx, "status refresh failed",
						"user_id", w.userID,
						"error", err)
				}
			}
		}
	}()

	return nil
}

// Current returns the latest derived summary.
func (w *Watcher) Current() StatusSummary {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Updates returns a channel carrying each new summary. The channel has a
// buffer of one; when a consumer lags, intermediate summaries are replaced
// by the newest rather than queued.
func (w *Watcher) Updates() <-chan StatusSummary {
	return w.updates
}

// Stop tears down the feed subscription and waits for the follow loop to
// exit. Safe to call more than once.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *Watcher) refresh(ctx context.Context) error {
	sub, err := w.store.Get(ctx, w.userID)
	if err != nil {
		// No row is the "never subscribed" state, not a failure.
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return err
		}
		sub = nil
	}

	summary := SummaryFor(sub)

	w.mu.Lock()
	w.current = summary
	w.mu.Unlock()

	// Collapse to the newest summary when the consumer is behind.
	select {
	case w.updates <- summary:
	default:
		select {
		case <-w.updates:
		default:
		}
		select {
		case w.updates <- summary:
		default:
		}
	}

	return nil
}
