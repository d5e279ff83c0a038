package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/arvx/poeflip/internal/models"
	"github.com/arvx/poeflip/internal/prices"
	"github.com/arvx/poeflip/internal/storage"
)

// State names the phases of a trade session.
type State string

const (
	StateNone     State = ""
	StateStart    State = "START"
	StateHideout  State = "HIDEOUT"
	StatePretrade State = "PRETRADE"
	StateTrade    State = "TRADE"
	StateEnd      State = "END"
)

const (
	sellerTradeAttemptCap = 30
	doneTTL               = 60 * time.Second
	buyScanWindow         = 50 * time.Second
	tradeResultWindow     = 5 * time.Second

	// priceSellMinStock: sell prices are only posted for items held in
	// meaningful quantity.
	priceSellMinStock = 50
)

// buyRequest is one buyer remembered from a whisper: who asked and
// what they want.
type buyRequest struct {
	CharName string
	Order    models.BuyOrder
}

// Seller executes the sell side: post prices, invite whispering
// buyers into the hideout and hand the items over.
type Seller struct {
	screen  *Screen
	events  EventSource
	ledger  *storage.Ledger
	hideout *HideoutWatcher
	prices  *prices.Watcher
	logger  *slog.Logger

	loopDelay time.Duration

	state     State
	pending   []buyRequest
	done      map[string]time.Time
	current   *buyRequest
	inventory []Match
}

func NewSeller(
	screen *Screen,
	events EventSource,
	ledger *storage.Ledger,
	hideout *HideoutWatcher,
	priceWatcher *prices.Watcher,
	loopDelay time.Duration,
	logger *slog.Logger,
) *Seller {
	return &Seller{
		screen:    screen,
		events:    events,
		ledger:    ledger,
		hideout:   hideout,
		prices:    priceWatcher,
		loopDelay: loopDelay,
		logger:    logger.With("component", "seller"),
		done:      make(map[string]time.Time),
	}
}

func (s *Seller) setState(state State) {
	s.state = state
	s.logger.Info("State changed", "state", string(state))
}

// Run drives the seller loop until the context is cancelled.
func (s *Seller) Run(ctx context.Context) error {
	s.logger.Info("Seller started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.loopDelay):
		}

		switch s.state {
		case StateNone:
			s.pending = nil
			s.current = nil
			s.inventory = nil
			s.setState(StateStart)
		case StateStart:
			s.stepStart(ctx)
		case StateHideout:
			s.stepHideout(ctx)
		case StatePretrade:
			s.stepPretrade(ctx)
		case StateTrade:
			s.stepTrade(ctx)
		}
	}
}

// stepStart opens the stash and posts sell prices for ledger entries
// that have stock but no price yet. The ledger's sell price doubles
// as the set-once guard.
func (s *Seller) stepStart(ctx context.Context) {
	if err := s.openStash(ctx); err != nil {
		s.logger.Warn("Stash not reachable", "error", err)
		return
	}
	s.screen.RemoveAlerts(ctx)

	entries, err := s.ledger.Entries()
	if err != nil {
		s.logger.Error("Ledger read failed", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.ItemSellPrice != 0 || entry.ItemAmount < priceSellMinStock {
			continue
		}
		sellPrice := sellPriceFor(entry.ItemBuyPrice)
		posted := fmt.Sprintf("%d/10", int(math.Round(sellPrice*10)))
		if err := s.screen.SetStashPrice(ctx, entry.ItemID, posted); err != nil {
			s.logger.Warn("Failed to post price", "item", entry.ItemID, "error", err)
			continue
		}
		if err := s.ledger.SetSellPrice(entry.ItemID, sellPrice); err != nil {
			s.logger.Error("Failed to record sell price", "item", entry.ItemID, "error", err)
			continue
		}
		s.logger.Info("Posted sell price", "item", entry.ItemID, "price", posted)
	}
	s.setState(StateHideout)
}

// sellPriceFor derives the per-unit sell price from the recorded buy
// price: wider margin above the 7c tier, rounded to one decimal.
func sellPriceFor(buyPrice float64) float64 {
	margin := 0.9
	if buyPrice >= 7 {
		margin = 1.5
	}
	return math.Round((buyPrice+margin)*10) / 10
}

// stepHideout watches the trade chat for buy whispers, answers price
// mismatches and sold-out requests, and invites payable buyers.
func (s *Seller) stepHideout(ctx context.Context) {
	s.purgeDone()

	if buyer := s.pendingPresent(); buyer != nil {
		s.setState(StatePretrade)
		return
	}

	events, err := s.events.Recent(ctx, buyScanWindow)
	if err != nil {
		s.logger.Debug("Event scan failed", "error", err)
		return
	}

	for _, ev := range events {
		if ev.Kind != models.EventBuy || ev.Buy == nil {
			continue
		}
		s.handleBuyEvent(ctx, ev.CharName, *ev.Buy)
	}
}

func (s *Seller) handleBuyEvent(ctx context.Context, charName string, order models.BuyOrder) {
	if order.ItemAmount <= 0 {
		return
	}
	entry, err := s.ledger.Get(order.ItemID)
	if err != nil || entry == nil {
		return
	}
	if _, isDone := s.done[charName]; isDone {
		return
	}

	offeredUnit := math.Round(float64(order.CurrencyAmount)/float64(order.ItemAmount)*10) / 10
	if offeredUnit < entry.ItemSellPrice {
		s.logger.Info("Buyer below posted price", "char", charName, "offered", offeredUnit)
		s.done[charName] = time.Now()
		return
	}

	if entry.ItemAmount < order.ItemAmount {
		s.screen.ChatCommand(ctx, fmt.Sprintf("@%s sold", charName))
		s.done[charName] = time.Now()
		return
	}

	for _, p := range s.pending {
		if p.CharName == charName {
			return
		}
	}
	if err := s.screen.ChatCommand(ctx, "/invite "+charName); err != nil {
		s.logger.Warn("Invite failed", "char", charName, "error", err)
		return
	}
	s.logger.Info("Invited buyer", "char", charName, "item", order.ItemID, "amount", order.ItemAmount)
	s.pending = append(s.pending, buyRequest{CharName: charName, Order: order})
}

// stepPretrade stages the sold items from the stash into the
// inventory until vision confirms them present.
func (s *Seller) stepPretrade(ctx context.Context) {
	buyer := s.pendingPresent()
	if buyer == nil {
		s.logger.Warn("Invited buyer no longer present")
		s.setState(StateHideout)
		return
	}
	s.current = buyer

	if err := s.openStash(ctx); err != nil {
		s.logger.Warn("Stash not reachable", "error", err)
		return
	}

	staged := s.stagedStacks(ctx, buyer.Order.ItemID, buyer.Order.ItemAmount)
	if len(staged) > 0 {
		s.inventory = staged
		s.setState(StateTrade)
		return
	}
	if err := s.screen.TakeFromStash(ctx, buyer.Order.ItemID, buyer.Order.ItemAmount); err != nil {
		s.logger.Warn("Failed to take items", "item", buyer.Order.ItemID, "error", err)
	}
}

// stepTrade opens a trade with the current buyer and drives the
// confirmation loop; accepted trades settle the ledger.
func (s *Seller) stepTrade(ctx context.Context) {
	if s.current == nil {
		s.setState(StateHideout)
		return
	}
	buyer := *s.current

	for _, inv := range s.screen.Invites(ctx) {
		s.screen.AnswerInvite(ctx, inv, false)
	}

	if err := s.screen.ChatCommand(ctx, "/tradewith "+buyer.CharName); err != nil {
		s.logger.Warn("Trade request failed", "char", buyer.CharName, "error", err)
		return
	}

	opened := runTradeWindow(ctx, s.screen, sellerTradeAttemptCap, func(ctx context.Context) error {
		return s.tradeStep(ctx, buyer)
	})
	if !opened {
		return
	}
	if s.screen.TradeOpened(ctx) {
		// Attempt cap hit with the window still up.
		s.logger.Warn("Trade attempt limit reached", "char", buyer.CharName)
		s.screen.input.Press(ctx, "esc")
		s.setState(StateHideout)
		return
	}

	events, err := s.events.Recent(ctx, tradeResultWindow)
	if err != nil {
		s.logger.Debug("Event scan failed", "error", err)
		return
	}
	for _, ev := range events {
		switch ev.Kind {
		case models.EventAccepted:
			s.logger.Info("Trade accepted", "char", buyer.CharName,
				"item", buyer.Order.ItemID, "amount", buyer.Order.ItemAmount)
			if err := s.ledger.Adjust(buyer.Order.ItemID, -buyer.Order.ItemAmount); err != nil {
				s.logger.Error("Ledger decrement failed", "error", err)
			}
			s.done[buyer.CharName] = time.Now()
			s.removePending(buyer.CharName)
			s.screen.ChatCommand(ctx, "/kick "+buyer.CharName)
			s.current = nil
			if len(s.pending) > 0 {
				s.setState(StateStart)
			} else {
				s.setState(StateNone)
			}
			return
		case models.EventCancelled:
			s.logger.Info("Trade cancelled", "char", buyer.CharName)
			// Brief cooldown so the buyer is not immediately re-invited.
			sleep(ctx, 1500*time.Millisecond)
			return
		}
	}
}

// tradeStep is the seller's confirmation-loop body: first make sure
// our items are placed, then accept once the buyer's payment covers
// the asking total. Mixed payments count premium currency at the
// refreshed exchange rate.
func (s *Seller) tradeStep(ctx context.Context, buyer buyRequest) error {
	order := buyer.Order

	given := matchedQuantity(ctx, s.screen, order.ItemID, order.ItemAmount, regionTradeBottom)
	if given < order.ItemAmount {
		if !s.screen.TradeOpened(ctx) {
			return nil
		}
		return s.screen.PlaceItems(ctx, s.inventory)
	}

	expected := order.CurrencyAmount
	paid := matchedQuantity(ctx, s.screen, order.CurrencyID, expected, regionTradeTop)

	if exaltValue := s.exaltValue(); exaltValue > 0 {
		exalts := 0
		for size := 1; size <= 10; size++ {
			for _, m := range s.screen.CountItems(ctx, "exalted-orb", size, regionTradeTop) {
				exalts += m.Count
			}
		}
		paid += int(math.Round(float64(exalts) * exaltValue))
	}

	if paid == 0 {
		return ErrVisionAmbiguous
	}
	if paid >= expected {
		return s.screen.AcceptTrade(ctx)
	}
	return nil
}

// exaltValue is the cached premium-currency rate, or 0 without a
// price watcher or before its first refresh.
func (s *Seller) exaltValue() float64 {
	if s.prices == nil {
		return 0
	}
	return s.prices.ExaltValue()
}

// stagedStacks checks the inventory for the sold amount split into
// full stacks of ten plus a remainder.
func (s *Seller) stagedStacks(ctx context.Context, itemID string, amount int) []Match {
	var staged []Match
	covered := 0

	full := amount
	if full > 10 {
		full = 10
	}
	for _, m := range s.screen.CountItems(ctx, itemID, full, regionInventory) {
		staged = append(staged, m)
		covered += m.Count
	}
	if rem := amount % 10; rem != 0 && amount > 10 {
		for _, m := range s.screen.CountItems(ctx, itemID, rem, regionInventory) {
			staged = append(staged, m)
			covered += m.Count
		}
	}
	if covered < amount {
		return nil
	}
	return staged
}

func (s *Seller) pendingPresent() *buyRequest {
	for i := range s.pending {
		if s.hideout.Present(s.pending[i].CharName) {
			return &s.pending[i]
		}
	}
	return nil
}

func (s *Seller) removePending(charName string) {
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.CharName != charName {
			kept = append(kept, p)
		}
	}
	s.pending = kept
}

// purgeDone drops done-list entries older than their TTL so
// counterparties can come back after the window.
func (s *Seller) purgeDone() {
	for name, at := range s.done {
		if time.Since(at) >= doneTTL {
			delete(s.done, name)
		}
	}
}

func (s *Seller) openStash(ctx context.Context) error {
	for i := 0; i < 5; i++ {
		if s.screen.StashOpened(ctx) {
			return nil
		}
		// Stash sits at a fixed hideout spot; click and re-check.
		s.screen.input.Click(ctx, 960, 540, "left", 1, false)
		sleep(ctx, time.Second)
	}
	return errStashClosed
}
