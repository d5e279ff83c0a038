// Package trader runs the per-item polling loop: query the listing
// API, clean the response and feed surviving candidates through the
// anti-spam policy into the dispatch queue.
package trader

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/arvx/poeflip/configs"
	"github.com/arvx/poeflip/internal/dispatch"
	"github.com/arvx/poeflip/internal/listing"
	"github.com/arvx/poeflip/internal/models"
	"github.com/arvx/poeflip/internal/pipeline"
	"github.com/arvx/poeflip/internal/storage"
)

const (
	// apiCooldown follows any ApiUnavailable/ApiOveruse condition.
	apiCooldown = 30 * time.Second

	// cycleDelay paces consecutive item polls.
	cycleDelay = 4 * time.Second

	idleDelay = 500 * time.Millisecond
)

type Trader struct {
	cfg     *configs.AppConfig
	client  *listing.Client
	pipe    *pipeline.Pipeline
	store   *storage.Store
	ledger  *storage.Ledger
	queue   *dispatch.Queue
	enabled *atomic.Bool
	hints   <-chan struct{}
	logger  *slog.Logger
}

func New(
	cfg *configs.AppConfig,
	client *listing.Client,
	pipe *pipeline.Pipeline,
	store *storage.Store,
	ledger *storage.Ledger,
	queue *dispatch.Queue,
	enabled *atomic.Bool,
	hints <-chan struct{},
	logger *slog.Logger,
) *Trader {
	return &Trader{
		cfg:     cfg,
		client:  client,
		pipe:    pipe,
		store:   store,
		ledger:  ledger,
		queue:   queue,
		enabled: enabled,
		hints:   hints,
		logger:  logger.With("component", "trader"),
	}
}

// Run cycles through the item specs until the context is cancelled.
// The spec file is re-read every cycle so edits take effect live.
func (t *Trader) Run(ctx context.Context) error {
	t.logger.Info("Trader started", "itemsFile", t.cfg.TradeItemsFile)

	index := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !t.enabled.Load() {
			t.sleep(ctx, idleDelay)
			continue
		}

		specs, err := configs.LoadItemSpecs(t.cfg.TradeItemsFile)
		if err != nil {
			t.logger.Error("Failed to load item specs", "error", err)
			t.sleep(ctx, apiCooldown)
			continue
		}
		if len(specs) == 0 {
			t.sleep(ctx, apiCooldown)
			continue
		}
		if index >= len(specs) {
			index = 0
		}

		spec := specs[index]
		index = (index + 1) % len(specs)
		if spec.Disabled {
			continue
		}
		t.logger.Info("Polling item", "item", spec.ItemID)

		if err := t.applyBuyLimit(&spec); err != nil {
			t.logger.Error("Ledger check failed", "item", spec.ItemID, "error", err)
		}

		bulk := slices.Contains(t.cfg.BulkTypes, spec.Type)
		resp, err := t.client.Search(ctx, spec, bulk)
		if err != nil {
			switch {
			case errors.Is(err, listing.ErrAPIOveruse):
				t.logger.Warn("API overuse, cooling down", "cooldown", apiCooldown, "error", err)
			case errors.Is(err, listing.ErrAPIUnavailable):
				t.logger.Warn("API unavailable, cooling down", "cooldown", apiCooldown, "error", err)
			case errors.Is(err, context.Canceled):
				return nil
			default:
				t.logger.Error("Search failed", "error", err)
			}
			t.sleep(ctx, apiCooldown)
			continue
		}

		candidates := t.pipe.BuildCandidates(resp, spec)
		t.contact(ctx, candidates, spec)

		t.waitNextCycle(ctx)
	}
}

// applyBuyLimit backs the spec off once the ledger reports the buy
// limit reached: lower the price ceiling, require restocked sellers
// and push the limit out. The mutation is in-memory only; the spec
// file stays untouched.
func (t *Trader) applyBuyLimit(spec *models.ItemSpec) error {
	entry, err := t.ledger.Get(spec.ItemID)
	if err != nil || entry == nil {
		return err
	}
	if entry.ItemBuyPrice == 0 {
		if err := t.ledger.SetBuyPriceIfEmpty(spec.ItemID, spec.MaxStockPrice); err != nil {
			return err
		}
	}
	if spec.BuyLimit > 0 && entry.ItemAmount >= spec.BuyLimit {
		t.logger.Info("Buy limit reached, backing off",
			"item", spec.ItemID, "amount", entry.ItemAmount, "limit", spec.BuyLimit)
		spec.MaxStockPrice--
		spec.MinStockAmount = 2
		spec.BuyLimit += 100
	}
	return nil
}

// contact applies the no-spam rule per candidate, upserts the
// counterparty and enqueues the whisper. The priority delay between
// candidates throttles total contact rate while favoring trusted
// counterparties.
func (t *Trader) contact(ctx context.Context, candidates []models.Candidate, spec models.ItemSpec) {
	for _, c := range candidates {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !t.enabled.Load() {
			// Remaining candidates are abandoned; fresh ones arrive
			// next poll. Queued entries age out in the dispatch worker.
			t.logger.Info("Trading disabled mid-batch", "remaining", len(candidates))
			return
		}

		if !c.Online || c.AFK {
			continue
		}

		existing, err := t.store.GetCounterparty(c.AccountName)
		if err != nil {
			t.logger.Error("Store lookup failed", "account", c.AccountName, "error", err)
			continue
		}
		if existing != nil && time.Since(existing.LastContact) < t.cfg.NoSpamDelay {
			continue
		}

		cp, err := t.store.UpsertFromCandidate(c, spec.Type)
		if err != nil {
			if errors.Is(err, storage.ErrStoreInconsistency) {
				t.logger.Warn("Abandoning candidate", "account", c.AccountName, "error", err)
				continue
			}
			t.logger.Error("Upsert failed", "account", c.AccountName, "error", err)
			continue
		}

		t.queue.Push(dispatch.Entry{Counterparty: *cp, Whisper: c.Whisper})

		delay := time.Duration(float64(cp.Priority) / t.cfg.PrioritySleepFactor * float64(time.Second))
		t.sleep(ctx, delay)
	}
}

// waitNextCycle sleeps the inter-cycle delay but lets a live-search
// hint cut it short.
func (t *Trader) waitNextCycle(ctx context.Context) {
	if t.hints == nil {
		t.sleep(ctx, cycleDelay)
		return
	}
	select {
	case <-ctx.Done():
	case <-t.hints:
		t.logger.Debug("Live search hint, polling early")
	case <-time.After(cycleDelay):
	}
}

func (t *Trader) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
