package session

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arvx/poeflip/configs"
	"github.com/arvx/poeflip/internal/models"
	"github.com/arvx/poeflip/internal/storage"
)

func testBuyer(t *testing.T, screen *Screen, events EventSource) (*Buyer, *storage.Store) {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	ledger := storage.NewLedger(filepath.Join(dir, "summary.json"), testLogger())

	enabled := &atomic.Bool{}
	enabled.Store(true)

	cfg := &configs.AppConfig{
		FillCurrencyStack: 40,
		DeductUserDelay:   2,
		TradeTimerLimit:   150,
		MainLoopDelay:     time.Millisecond,
	}
	return NewBuyer(cfg, screen, events, store, ledger, enabled, testLogger()), store
}

func seedCounterparty(t *testing.T, store *storage.Store, account string) {
	t.Helper()
	_, err := store.UpsertFromCandidate(models.Candidate{
		AccountName:  account,
		LastCharName: account + "Char",
		BuyPrice:     5,
		BuyCurrency:  "chaos",
		ItemID:       "dense-fossil",
		Stock:        20,
	}, "fossil")
	if err != nil {
		t.Fatalf("Failed to seed counterparty: %v", err)
	}
}

func TestDeduceInviterMatchesNoisyText(t *testing.T) {
	ocr := &fakeOCR{text: "A1iceAccount"}
	screen := testScreen(&fakeVision{}, &fakeInput{}, ocr, &fakeEvents{})
	b, store := testBuyer(t, screen, &fakeEvents{})

	seedCounterparty(t, store, "AliceAccount")
	seedCounterparty(t, store, "SomebodyElse")

	cp := b.deduceInviter(context.Background(), Invite{Kind: "party"})
	if cp == nil {
		t.Fatal("Expected a match, got nil")
	}
	if cp.AccountName != "AliceAccount" {
		t.Errorf("Expected AliceAccount, got %s", cp.AccountName)
	}
}

func TestDeduceInviterRejectsUnknown(t *testing.T) {
	ocr := &fakeOCR{text: "TotallyUnrelatedName"}
	screen := testScreen(&fakeVision{}, &fakeInput{}, ocr, &fakeEvents{})
	b, store := testBuyer(t, screen, &fakeEvents{})

	seedCounterparty(t, store, "AliceAccount")

	if cp := b.deduceInviter(context.Background(), Invite{Kind: "party"}); cp != nil {
		t.Errorf("Expected no match, got %s", cp.AccountName)
	}
}

func TestTravelCandidatesOrdering(t *testing.T) {
	screen := testScreen(&fakeVision{}, &fakeInput{}, &fakeOCR{}, &fakeEvents{})
	b, store := testBuyer(t, screen, &fakeEvents{})

	seedCounterparty(t, store, "First")
	seedCounterparty(t, store, "Second")
	base := time.Now()
	store.TouchContact("First", base.Add(-time.Hour))
	store.TouchContact("Second", base)

	b.current = &models.Counterparty{AccountName: "Second", LastCharName: "SecondChar"}

	names := b.travelCandidates()
	if len(names) != 2 {
		t.Fatalf("Expected 2 candidates, got %d: %v", len(names), names)
	}
	if names[0] != "SecondChar" {
		t.Errorf("Expected deduced char first, got %s", names[0])
	}
	if names[1] != "FirstChar" {
		t.Errorf("Expected FirstChar second, got %s", names[1])
	}
}

func TestBuyerHideoutAcceptsKnownParty(t *testing.T) {
	vision := &fakeVision{}
	vision.set(invitePartyTmpl, regionFull, Match{X: 10, Y: 20})
	input := &fakeInput{}
	ocr := &fakeOCR{text: "AliceAccount"}
	screen := testScreen(vision, input, ocr, &fakeEvents{})
	b, store := testBuyer(t, screen, &fakeEvents{})

	seedCounterparty(t, store, "AliceAccount")
	b.state = StateHideout

	b.stepHideout(context.Background())

	if b.state != StatePretrade {
		t.Errorf("Expected PRETRADE after accepting invite, got %s", b.state)
	}
	if b.current == nil || b.current.AccountName != "AliceAccount" {
		t.Errorf("Expected current counterparty AliceAccount, got %v", b.current)
	}
	if b.dispatchOn.Load() {
		t.Error("Expected outgoing whispers paused after joining a party")
	}
}

func TestBuyerHideoutDeclinesChallenge(t *testing.T) {
	vision := &fakeVision{}
	vision.set(inviteChallengeTmpl, regionFull, Match{X: 10, Y: 20})
	input := &fakeInput{}
	screen := testScreen(vision, input, &fakeOCR{}, &fakeEvents{})
	b, _ := testBuyer(t, screen, &fakeEvents{})
	b.state = StateHideout

	b.stepHideout(context.Background())

	if b.state != StateHideout {
		t.Errorf("Expected to stay in HIDEOUT, got %s", b.state)
	}
	// Decline button sits at the +300 offset.
	if !input.recorded("click left 310,150") {
		t.Errorf("Expected decline click, got %v", input.actions)
	}
}

func TestBuyerTradeExpiresAfterCancels(t *testing.T) {
	events := &fakeEvents{events: []models.Event{
		{Kind: models.EventCancelled, At: time.Now()},
		{Kind: models.EventCancelled, At: time.Now()},
	}}
	vision := &fakeVision{}
	vision.set(tmplPartyFrame, regionFull, Match{X: 5, Y: 5})
	screen := testScreen(vision, &fakeInput{}, &fakeOCR{}, events)
	b, _ := testBuyer(t, screen, events)

	b.state = StateTrade
	b.current = &models.Counterparty{AccountName: "Alice", LastCharName: "AliceChar", Price: 5, Stock: 20}

	// First pass records the cancellations, second pass force-expires.
	b.stepTrade(context.Background())
	b.stepTrade(context.Background())

	if b.state != StateNone {
		t.Errorf("Expected session reset after two cancels, got %s", b.state)
	}
}

func TestBuyerTradeAcceptedSettles(t *testing.T) {
	events := &fakeEvents{events: []models.Event{
		{Kind: models.EventAccepted, At: time.Now()},
	}}
	vision := &fakeVision{}
	vision.set(tmplTradeWindow, regionFull, Match{X: 1, Y: 1})
	// Payment fully placed and the seller's 20 fossils visible on top.
	vision.set("chaos-orb-10", regionTradeBottom, Match{X: 1, Y: 1}, Match{X: 2, Y: 1},
		Match{X: 3, Y: 1}, Match{X: 4, Y: 1}, Match{X: 5, Y: 1},
		Match{X: 6, Y: 1}, Match{X: 7, Y: 1}, Match{X: 8, Y: 1},
		Match{X: 9, Y: 1}, Match{X: 10, Y: 1})
	vision.set("dense-fossil-10", regionTradeTop, Match{X: 1, Y: 2}, Match{X: 2, Y: 2})
	vision.set(tmplAcceptButton, regionFull, Match{X: 50, Y: 50})
	vision.set(tmplPartyFrame, regionFull, Match{X: 5, Y: 5})

	input := &fakeInput{}
	screen := testScreen(vision, input, &fakeOCR{}, events)
	b, store := testBuyer(t, screen, events)

	seedCounterparty(t, store, "Alice")
	b.state = StateTrade
	b.current = &models.Counterparty{AccountName: "Alice", LastCharName: "AliceChar", Price: 5, Stock: 20, ItemID: "dense-fossil"}

	b.stepTrade(context.Background())

	if b.state != StateNone {
		t.Errorf("Expected session reset after accepted trade, got %s", b.state)
	}

	entry, err := b.ledger.Get("dense-fossil")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if entry == nil || entry.ItemAmount != 20 {
		t.Fatalf("Expected 20 units in ledger, got %v", entry)
	}
	if entry.ItemBuyPrice != 5 {
		t.Errorf("Expected buy price 5 recorded, got %v", entry.ItemBuyPrice)
	}

	cp, err := store.GetCounterparty("Alice")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cp.Priority != 12 || cp.TradeCount != 1 {
		t.Errorf("Expected priority 12 and trade count 1, got %d/%d", cp.Priority, cp.TradeCount)
	}
}
