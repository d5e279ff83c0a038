package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/arvx/poeflip/internal/models"
)

// Ledger is the per-item trade summary: running stock plus last buy
// and sell prices, persisted as a JSON document. One Ledger instance
// is shared by the trader and the state machines; the mutex makes
// each read-modify-write atomic with respect to concurrent workers.
type Ledger struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

func NewLedger(path string, logger *slog.Logger) *Ledger {
	return &Ledger{path: path, logger: logger.With("component", "ledger")}
}

// Entries returns a snapshot of all ledger entries.
func (l *Ledger) Entries() ([]models.TradeSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Get returns the entry for an item id, or nil when absent.
func (l *Ledger) Get(itemID string) (*models.TradeSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ItemID == itemID {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// Adjust applies a signed delta to an item's amount, creating the
// entry on first buy. A resulting negative amount is a reportable
// anomaly, logged and kept as-is rather than clamped.
func (l *Ledger) Adjust(itemID string, delta int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return err
	}

	for i := range entries {
		if entries[i].ItemID != itemID {
			continue
		}
		entries[i].ItemAmount += delta
		if entries[i].ItemAmount < 0 {
			l.logger.Error("Ledger anomaly: negative amount",
				"item", itemID, "amount", entries[i].ItemAmount)
		}
		return l.save(entries)
	}

	if delta < 0 {
		l.logger.Error("Ledger anomaly: decrement for unknown item", "item", itemID)
	}
	entries = append(entries, models.TradeSummary{ItemID: itemID, ItemAmount: delta})
	return l.save(entries)
}

// SetBuyPriceIfEmpty records the buy price the first time an item is
// observed without one.
func (l *Ledger) SetBuyPriceIfEmpty(itemID string, price float64) error {
	return l.update(itemID, func(e *models.TradeSummary) bool {
		if e.ItemBuyPrice != 0 {
			return false
		}
		e.ItemBuyPrice = price
		return true
	})
}

// SetSellPrice records the posted sell price for an item. The seller
// uses a zero value here as its set-once guard.
func (l *Ledger) SetSellPrice(itemID string, price float64) error {
	return l.update(itemID, func(e *models.TradeSummary) bool {
		e.ItemSellPrice = price
		return true
	})
}

func (l *Ledger) update(itemID string, fn func(*models.TradeSummary) bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ItemID == itemID {
			if fn(&entries[i]) {
				return l.save(entries)
			}
			return nil
		}
	}
	return fmt.Errorf("ledger: unknown item %s", itemID)
}

func (l *Ledger) load() ([]models.TradeSummary, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	var entries []models.TradeSummary
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return entries, nil
}

func (l *Ledger) save(entries []models.TradeSummary) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0o644)
}
