package session

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/arvx/poeflip/configs"
	"github.com/arvx/poeflip/internal/models"
	"github.com/arvx/poeflip/internal/storage"
)

const (
	buyerTradeAttemptCap = 40

	// identityWindow / travelWindow bound the counterparty deduction:
	// invite popups are matched against the most recent contacts,
	// travel attempts against a tighter slice of them.
	identityWindow = 15
	travelWindow   = 9

	identityThreshold = 0.7

	cancelScanWindow = 30 * time.Second
	hideoutIdleCap   = 20

	payCurrencyID = "chaos-orb"
)

// Buyer executes the buy side of a flip: keep the inventory stocked
// with payment currency, join inviting sellers, travel to their
// hideout and confirm the trade.
type Buyer struct {
	cfg        *configs.AppConfig
	screen     *Screen
	events     EventSource
	store      *storage.Store
	ledger     *storage.Ledger
	dispatchOn *atomic.Bool
	logger     *slog.Logger

	state      State
	current    *models.Counterparty
	tradeTimer int
	cancels    int
	idleTicks  int
	staged     []Match
}

func NewBuyer(
	cfg *configs.AppConfig,
	screen *Screen,
	events EventSource,
	store *storage.Store,
	ledger *storage.Ledger,
	dispatchOn *atomic.Bool,
	logger *slog.Logger,
) *Buyer {
	return &Buyer{
		cfg:        cfg,
		screen:     screen,
		events:     events,
		store:      store,
		ledger:     ledger,
		dispatchOn: dispatchOn,
		logger:     logger.With("component", "buyer"),
	}
}

func (b *Buyer) setState(state State) {
	b.state = state
	b.logger.Info("State changed", "state", string(state))
}

// Run drives the buyer loop until the context is cancelled or the
// session ends (depleted buyout stash or a failed zone transition).
func (b *Buyer) Run(ctx context.Context) error {
	b.logger.Info("Buyer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.cfg.MainLoopDelay):
		}

		switch b.state {
		case StateNone:
			b.current = nil
			b.tradeTimer = 0
			b.cancels = 0
			b.idleTicks = 0
			b.staged = nil
			b.setState(StateStart)
		case StateStart:
			b.stepStart(ctx)
		case StateHideout:
			b.stepHideout(ctx)
		case StatePretrade:
			b.stepPretrade(ctx)
		case StateTrade:
			b.stepTrade(ctx)
		case StateEnd:
			b.logger.Info("Buyer session ended")
			return nil
		}
	}
}

// stepStart is the home-base housekeeping pass: whispers re-enabled,
// bought items stashed, payment currency topped up. A depleted buyout
// tab ends the session.
func (b *Buyer) stepStart(ctx context.Context) {
	b.dispatchOn.Store(true)

	if len(b.screen.Invites(ctx)) > 0 {
		b.setState(StateHideout)
		return
	}

	if !b.screen.InHideout(ctx) {
		if b.areaError(ctx) {
			b.logout(ctx)
			return
		}
		b.screen.ChatCommand(ctx, "/hideout")
		sleep(ctx, 2*time.Second)
		return
	}

	if err := b.openStash(ctx); err != nil {
		b.logger.Warn("Stash not reachable", "error", err)
		return
	}
	b.screen.RemoveAlerts(ctx)
	b.stashBoughtItems(ctx)

	if b.screen.StashDepleted(ctx) {
		b.logger.Warn("Buyout currency depleted")
		b.logout(ctx)
		return
	}
	b.refillCurrency(ctx)

	b.setState(StateHideout)
}

// stepHideout waits for seller invites. Party invites are only
// accepted when the popup's account text matches a recently contacted
// counterparty; accepting one pauses outgoing whispers for the rest
// of the session.
func (b *Buyer) stepHideout(ctx context.Context) {
	invites := b.screen.Invites(ctx)
	if len(invites) == 0 {
		b.idleTicks++
		if b.idleTicks >= hideoutIdleCap {
			b.idleTicks = 0
			b.setState(StateStart)
		}
		return
	}
	b.idleTicks = 0

	for _, inv := range invites {
		switch inv.Kind {
		case "challenge":
			b.screen.AnswerInvite(ctx, inv, false)
		case "friend":
			b.screen.AnswerInvite(ctx, inv, true)
		case "trade":
			// Trades only happen in the seller's hideout.
			b.screen.AnswerInvite(ctx, inv, false)
		case "party":
			cp := b.deduceInviter(ctx, inv)
			if cp == nil {
				b.screen.AnswerInvite(ctx, inv, false)
				continue
			}
			if err := b.screen.AnswerInvite(ctx, inv, true); err != nil {
				b.logger.Warn("Failed to accept invite", "error", err)
				continue
			}
			b.logger.Info("Joined party", "account", cp.AccountName, "item", cp.ItemID)
			b.current = cp
			b.dispatchOn.Store(false)
			b.setState(StatePretrade)
			return
		}
	}
}

// deduceInviter OCRs the invite popup and matches the noisy text
// against the most recently contacted counterparties.
func (b *Buyer) deduceInviter(ctx context.Context, inv Invite) *models.Counterparty {
	text, err := b.screen.InviteAccountText(ctx, inv)
	if err != nil {
		b.logger.Debug("Invite OCR failed", "error", err)
		return nil
	}

	recent, err := b.store.LatestCounterparties(identityWindow)
	if err != nil {
		b.logger.Error("Counterparty lookup failed", "error", err)
		return nil
	}

	var best *models.Counterparty
	bestScore := 0.0
	for i := range recent {
		score := similarity(text, recent[i].AccountName)
		if score > bestScore {
			best = &recent[i]
			bestScore = score
		}
	}
	if bestScore < identityThreshold {
		b.logger.Info("Invite from unknown account", "text", text, "best", bestScore)
		return nil
	}
	return best
}

// stepPretrade travels to the seller's hideout. The party leader's
// instance only admits the right character name, so a loading screen
// confirms the guess; candidates are tried newest-contact first.
func (b *Buyer) stepPretrade(ctx context.Context) {
	if !b.screen.InParty(ctx) {
		b.logger.Warn("Party lost before travel")
		b.current = nil
		b.setState(StateStart)
		return
	}

	candidates := b.travelCandidates()
	for _, charName := range candidates {
		if b.travelTo(ctx, charName) {
			if b.current != nil && b.current.LastCharName != charName {
				b.logger.Info("Travel matched different character", "char", charName)
			}
			b.setState(StateTrade)
			return
		}
	}

	b.logger.Warn("Could not reach seller hideout")
	b.screen.LeaveParty(ctx)
	b.screen.LeaveParty(ctx)
	b.current = nil
	b.setState(StateStart)
}

// travelCandidates orders character names to try: the deduced
// counterparty first, then the rest of the recent-contact slice.
func (b *Buyer) travelCandidates() []string {
	var names []string
	seen := map[string]struct{}{}
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	if b.current != nil {
		add(b.current.LastCharName)
	}
	recent, err := b.store.LatestCounterparties(travelWindow)
	if err != nil {
		b.logger.Error("Counterparty lookup failed", "error", err)
		return names
	}
	for _, cp := range recent {
		add(cp.LastCharName)
	}
	return names
}

func (b *Buyer) travelTo(ctx context.Context, charName string) bool {
	if err := b.screen.ChatCommand(ctx, "/hideout "+charName); err != nil {
		b.logger.Warn("Travel command failed", "char", charName, "error", err)
		return false
	}
	for i := 0; i < b.cfg.DeductUserDelay; i++ {
		if b.screen.Loading(ctx) {
			// Wait out the transition.
			for b.screen.Loading(ctx) && ctx.Err() == nil {
				sleep(ctx, 500*time.Millisecond)
			}
			return true
		}
		sleep(ctx, 500*time.Millisecond)
	}
	return false
}

// stepTrade waits in the seller's hideout for the trade window and
// confirms the exchange. Two cancellations or a run-down timer expire
// the session.
func (b *Buyer) stepTrade(ctx context.Context) {
	if b.current == nil {
		b.setState(StateStart)
		return
	}
	cp := *b.current

	b.tradeTimer++
	if b.cancels >= 2 {
		b.tradeTimer = b.cfg.TradeTimerLimit
	}
	if b.tradeTimer >= b.cfg.TradeTimerLimit {
		b.logger.Warn("Trade session expired", "account", cp.AccountName)
		b.screen.LeaveParty(ctx)
		b.setState(StateNone)
		return
	}

	events, err := b.events.Recent(ctx, cancelScanWindow)
	if err == nil {
		cancels := 0
		for _, ev := range events {
			if ev.Kind == models.EventCancelled {
				cancels++
			}
		}
		b.cancels = cancels
	}

	if !b.screen.TradeOpened(ctx) {
		return
	}

	opened := runTradeWindow(ctx, b.screen, buyerTradeAttemptCap, func(ctx context.Context) error {
		return b.tradeStep(ctx, cp)
	})
	if !opened {
		return
	}

	results, err := b.events.Recent(ctx, tradeResultWindow)
	if err != nil {
		b.logger.Debug("Event scan failed", "error", err)
		return
	}
	for _, ev := range results {
		if ev.Kind != models.EventAccepted {
			continue
		}
		b.logger.Info("Trade accepted", "account", cp.AccountName,
			"item", cp.ItemID, "amount", cp.Stock)
		if err := b.store.BumpPriority(cp.AccountName); err != nil {
			b.logger.Error("Priority bump failed", "error", err)
		}
		if err := b.ledger.Adjust(cp.ItemID, cp.Stock); err != nil {
			b.logger.Error("Ledger increment failed", "error", err)
		}
		if err := b.ledger.SetBuyPriceIfEmpty(cp.ItemID, cp.Price); err != nil {
			b.logger.Error("Buy price record failed", "error", err)
		}
		b.screen.LeaveParty(ctx)
		b.setState(StateNone)
		return
	}
}

// tradeStep is the buyer's confirmation-loop body: stage the payment
// currency, then accept once the seller's side shows the full stock.
func (b *Buyer) tradeStep(ctx context.Context, cp models.Counterparty) error {
	pay := int(math.Round(cp.Price * float64(cp.Stock)))
	if pay <= 0 {
		return ErrVisionAmbiguous
	}

	placed := matchedQuantity(ctx, b.screen, payCurrencyID, pay, regionTradeBottom)
	if placed < pay {
		if !b.screen.TradeOpened(ctx) {
			return nil
		}
		if err := b.placePayment(ctx, pay-placed); err != nil {
			return err
		}
		return nil
	}

	got := matchedQuantity(ctx, b.screen, cp.ItemID, cp.Stock, regionTradeTop)
	if got == 0 {
		return ErrVisionAmbiguous
	}
	if got >= cp.Stock {
		return b.screen.AcceptTrade(ctx)
	}
	return nil
}

// placePayment ctrl-clicks currency stacks into the trade window. A
// stack stuck on the cursor is dropped onto an empty inventory slot
// before retrying.
func (b *Buyer) placePayment(ctx context.Context, missing int) error {
	var coords []Match
	covered := 0

	full := missing
	if full > 10 {
		full = 10
	}
	for _, m := range b.screen.CountItems(ctx, payCurrencyID, full, regionInventory) {
		if covered >= missing {
			break
		}
		coords = append(coords, m)
		covered += m.Count
	}
	if rem := missing % 10; rem != 0 && missing > 10 && covered < missing {
		for _, m := range b.screen.CountItems(ctx, payCurrencyID, rem, regionInventory) {
			coords = append(coords, m)
			covered += m.Count
			break
		}
	}

	if len(coords) == 0 {
		// Nothing matched: a stack may be stuck on the cursor.
		if empty := b.screen.EmptySlots(ctx); len(empty) > 0 {
			b.screen.input.Click(ctx, empty[0].X, empty[0].Y, "left", 1, false)
		}
		return ErrVisionAmbiguous
	}
	return b.screen.PlaceItems(ctx, coords)
}

// stashBoughtItems moves every ledger item found in the inventory
// into the open stash.
func (b *Buyer) stashBoughtItems(ctx context.Context) {
	entries, err := b.ledger.Entries()
	if err != nil {
		b.logger.Error("Ledger read failed", "error", err)
		return
	}
	for _, entry := range entries {
		var coords []Match
		for size := 1; size <= 10; size++ {
			coords = append(coords, b.screen.CountItems(ctx, entry.ItemID, size, regionInventory)...)
		}
		if len(coords) == 0 {
			continue
		}
		if err := b.screen.PlaceItems(ctx, coords); err != nil {
			b.logger.Warn("Failed to stash items", "item", entry.ItemID, "error", err)
		}
	}
}

// refillCurrency tops the inventory up to the configured payment
// float from the buyout tab.
func (b *Buyer) refillCurrency(ctx context.Context) {
	held := 0
	for size := 1; size <= 10; size++ {
		for _, m := range b.screen.CountItems(ctx, payCurrencyID, size, regionInventory) {
			held += m.Count
		}
	}
	if held >= b.cfg.FillCurrencyStack {
		return
	}
	if err := b.screen.TakeFromStash(ctx, payCurrencyID, b.cfg.FillCurrencyStack-held); err != nil {
		b.logger.Warn("Currency refill failed", "error", err)
	}
}

func (b *Buyer) areaError(ctx context.Context) bool {
	events, err := b.events.Recent(ctx, 10*time.Second)
	if err != nil {
		return false
	}
	for _, ev := range events {
		if ev.Kind == models.EventAreaError {
			return true
		}
	}
	return false
}

// logout ends the game session and the buyer loop. Recovery is left
// to the process supervisor.
func (b *Buyer) logout(ctx context.Context) {
	b.screen.ChatCommand(ctx, "/exit")
	b.setState(StateEnd)
}

func (b *Buyer) openStash(ctx context.Context) error {
	for i := 0; i < 5; i++ {
		if b.screen.StashOpened(ctx) {
			return nil
		}
		b.screen.input.Click(ctx, 960, 540, "left", 1, false)
		sleep(ctx, time.Second)
	}
	return errStashClosed
}
