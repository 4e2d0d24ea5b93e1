package engine

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/metrics"
)

const (
	eventBuffer  = 256
	eventTimeout = 30 * time.Second
)

// Event is a state change of one item.
type Event struct {
	ID     string         `json:"id"`
	ItemID uint           `json:"item_id"`
	Title  string         `json:"title"`
	From   database.State `json:"from"`
	To     database.State `json:"to"`
	Reason string         `json:"reason,omitempty"`
	// Path is the library path of the item after the transition, if any.
	Path string `json:"path,omitempty"`
	// Failure marks events that need attention: blacklisted items and failed verifications.
	Failure bool      `json:"failure,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier consumes events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Flusher is a Notifier that batches events until flushed.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Events returns the event channel. Only tests and the consumer read from it.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// transitioned logs, counts and publishes a committed transition.
func (e *Engine) transitioned(item *database.MediaItem, from, to database.State, reason, path string) {
	log.Info("item transitioned", "item_id", item.ID, "item", item.String(), "from", from, "to", to, "reason", reason)
	metrics.RecordTransition(string(from), string(to))
	e.emit(Event{
		ItemID:  item.ID,
		Title:   item.String(),
		From:    from,
		To:      to,
		Reason:  reason,
		Path:    path,
		Failure: to == database.StateBlacklisted,
	})
}

// emit never blocks. A full channel drops the event.
func (e *Engine) emit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	select {
	case e.events <- ev:
	default:
		log.Warn("event channel full, dropping event", "item_id", ev.ItemID, "from", ev.From, "to", ev.To)
	}
}

// consume owns notifications and media server pokes until ctx is done.
func (e *Engine) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	if e.server != nil && ev.To == database.StateCollected && ev.Path != "" {
		if err := e.server.UpdateItem(ctx, ev.Path); err != nil {
			log.Warn("failed to notify media server", "server", e.server.Name(), "path", ev.Path, "error", err)
		}
	}
	for _, n := range e.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			log.Error("failed to send notification", "item_id", ev.ItemID, "error", err)
		}
	}
}

// flushNotifiers sends every batched notification.
func (e *Engine) flushNotifiers(ctx context.Context) error {
	for _, n := range e.notifiers {
		f, ok := n.(Flusher)
		if !ok {
			continue
		}
		if err := f.Flush(ctx); err != nil {
			log.Error("failed to flush notifications", "error", err)
		}
	}
	return nil
}
