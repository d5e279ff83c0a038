package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arvx/poeflip/internal/models"
)

const (
	hideoutPoll   = 500 * time.Millisecond
	hideoutWindow = 5 * time.Second
)

// HideoutWatcher maintains the set of characters currently inside the
// hideout instance from joined/left events. Consumed by the seller
// machine to detect invited buyers arriving.
type HideoutWatcher struct {
	screen *Screen
	events EventSource
	logger *slog.Logger

	mu      sync.RWMutex
	present map[string]struct{}
}

func NewHideoutWatcher(screen *Screen, events EventSource, logger *slog.Logger) *HideoutWatcher {
	return &HideoutWatcher{
		screen:  screen,
		events:  events,
		logger:  logger.With("component", "hideout"),
		present: make(map[string]struct{}),
	}
}

// Present reports whether a character is currently in the hideout.
func (h *HideoutWatcher) Present(charName string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.present[charName]
	return ok
}

// Run polls the event source while the hideout is on screen.
func (h *HideoutWatcher) Run(ctx context.Context) error {
	h.logger.Info("Hideout watcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(hideoutPoll):
		}

		if !h.screen.InHideout(ctx) {
			continue
		}

		events, err := h.events.Recent(ctx, hideoutWindow)
		if err != nil {
			h.logger.Debug("Event scan failed", "error", err)
			continue
		}

		for _, ev := range events {
			switch ev.Kind {
			case models.EventJoined:
				h.mu.Lock()
				if _, ok := h.present[ev.CharName]; !ok {
					h.logger.Info("Joined hideout", "char", ev.CharName)
					h.present[ev.CharName] = struct{}{}
				}
				h.mu.Unlock()
			case models.EventLeft:
				h.mu.Lock()
				if _, ok := h.present[ev.CharName]; ok {
					h.logger.Info("Left hideout", "char", ev.CharName)
					delete(h.present, ev.CharName)
				}
				h.mu.Unlock()
			}
		}
	}
}
