package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arvx/poeflip/internal/models"
	"github.com/arvx/poeflip/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVision serves canned matches keyed by "template/region".
type fakeVision struct {
	mu      sync.Mutex
	matches map[string][]Match
	calls   []string
}

func (f *fakeVision) key(template, region string) string {
	return template + "/" + region
}

func (f *fakeVision) set(template, region string, matches ...Match) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.matches == nil {
		f.matches = make(map[string][]Match)
	}
	f.matches[f.key(template, region)] = matches
}

func (f *fakeVision) Match(ctx context.Context, template string, threshold float64, region string) ([]Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, f.key(template, region))
	return f.matches[f.key(template, region)], nil
}

// fakeInput records every primitive it delivers.
type fakeInput struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeInput) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, fmt.Sprintf(format, args...))
}

func (f *fakeInput) recorded(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.actions {
		if strings.Contains(a, substr) {
			return true
		}
	}
	return false
}

func (f *fakeInput) Focus(ctx context.Context) error { f.record("focus"); return nil }
func (f *fakeInput) MouseMove(ctx context.Context, x, y int) error {
	f.record("move %d,%d", x, y)
	return nil
}
func (f *fakeInput) Click(ctx context.Context, x, y int, button string, clicks int, ctrl bool) error {
	f.record("click %s %d,%d ctrl=%v", button, x, y, ctrl)
	return nil
}
func (f *fakeInput) Press(ctx context.Context, key string) error { f.record("press %s", key); return nil }
func (f *fakeInput) KeyDown(ctx context.Context, key string) error {
	f.record("down %s", key)
	return nil
}
func (f *fakeInput) KeyUp(ctx context.Context, key string) error { f.record("up %s", key); return nil }
func (f *fakeInput) Paste(ctx context.Context, text string) error {
	f.record("paste %s", text)
	return nil
}

type fakeOCR struct {
	text string
}

func (f *fakeOCR) ReadText(ctx context.Context, region Rect) (string, error) {
	return f.text, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (f *fakeEvents) Recent(ctx context.Context, window time.Duration) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Event{}, f.events...), nil
}

func testScreen(vision *fakeVision, input *fakeInput, ocr *fakeOCR, events *fakeEvents) *Screen {
	c := Collabs{Vision: vision, Input: input, OCR: ocr, Events: events}
	return NewScreen(c, map[string]float64{}, testLogger())
}

func TestMatchedQuantity(t *testing.T) {
	vision := &fakeVision{}
	screen := testScreen(vision, &fakeInput{}, &fakeOCR{}, &fakeEvents{})

	// 25 units: two full stacks of ten plus one remainder stack of five.
	vision.set("dense-fossil-10", regionTradeBottom, Match{X: 1, Y: 1}, Match{X: 2, Y: 1})
	vision.set("dense-fossil-5", regionTradeBottom, Match{X: 3, Y: 1})

	got := matchedQuantity(context.Background(), screen, "dense-fossil", 25, regionTradeBottom)
	if got != 25 {
		t.Errorf("Expected 25 units matched, got %d", got)
	}
}

func TestMatchedQuantitySmallStack(t *testing.T) {
	vision := &fakeVision{}
	screen := testScreen(vision, &fakeInput{}, &fakeOCR{}, &fakeEvents{})

	vision.set("dense-fossil-7", regionTradeTop, Match{X: 1, Y: 1})

	got := matchedQuantity(context.Background(), screen, "dense-fossil", 7, regionTradeTop)
	if got != 7 {
		t.Errorf("Expected 7 units matched, got %d", got)
	}
}

func TestRunTradeWindowNeverOpened(t *testing.T) {
	vision := &fakeVision{}
	screen := testScreen(vision, &fakeInput{}, &fakeOCR{}, &fakeEvents{})

	steps := 0
	opened := runTradeWindow(context.Background(), screen, 5, func(ctx context.Context) error {
		steps++
		return nil
	})
	if opened {
		t.Error("Expected opened=false when window never appears")
	}
	if steps != 0 {
		t.Errorf("Expected no steps, got %d", steps)
	}
}

func TestRunTradeWindowAttemptCap(t *testing.T) {
	vision := &fakeVision{}
	vision.set(tmplTradeWindow, regionFull, Match{X: 1, Y: 1})
	screen := testScreen(vision, &fakeInput{}, &fakeOCR{}, &fakeEvents{})

	steps := 0
	opened := runTradeWindow(context.Background(), screen, 5, func(ctx context.Context) error {
		steps++
		return nil
	})
	if !opened {
		t.Error("Expected opened=true")
	}
	if steps != 5 {
		t.Errorf("Expected 5 steps before cap, got %d", steps)
	}
}

func TestRunTradeWindowStopsWhenClosed(t *testing.T) {
	vision := &fakeVision{}
	vision.set(tmplTradeWindow, regionFull, Match{X: 1, Y: 1})
	screen := testScreen(vision, &fakeInput{}, &fakeOCR{}, &fakeEvents{})

	steps := 0
	opened := runTradeWindow(context.Background(), screen, 50, func(ctx context.Context) error {
		steps++
		if steps == 3 {
			vision.set(tmplTradeWindow, regionFull)
		}
		return nil
	})
	if !opened {
		t.Error("Expected opened=true")
	}
	if steps != 3 {
		t.Errorf("Expected 3 steps, got %d", steps)
	}
}

func TestSellPriceFor(t *testing.T) {
	tests := []struct {
		buy  float64
		want float64
	}{
		{5, 5.9},
		{6.9, 7.8},
		{7, 8.5},
		{10, 11.5},
	}
	for _, tt := range tests {
		if got := sellPriceFor(tt.buy); got != tt.want {
			t.Errorf("sellPriceFor(%v): expected %v, got %v", tt.buy, tt.want, got)
		}
	}
}

func testSeller(t *testing.T, screen *Screen, events EventSource) *Seller {
	t.Helper()
	ledger := storage.NewLedger(filepath.Join(t.TempDir(), "summary.json"), testLogger())
	hideout := NewHideoutWatcher(screen, events, testLogger())
	return NewSeller(screen, events, ledger, hideout, nil, time.Millisecond, testLogger())
}

func TestSellerHandleBuyEvent(t *testing.T) {
	vision := &fakeVision{}
	input := &fakeInput{}
	events := &fakeEvents{}
	screen := testScreen(vision, input, &fakeOCR{}, events)
	s := testSeller(t, screen, events)

	if err := s.ledger.Adjust("dense-fossil", 100); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := s.ledger.SetSellPrice("dense-fossil", 6); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	t.Run("Fair order invites", func(t *testing.T) {
		order := models.BuyOrder{ItemID: "dense-fossil", ItemAmount: 20, CurrencyID: "chaos-orb", CurrencyAmount: 120}
		s.handleBuyEvent(context.Background(), "BuyerChar", order)

		if len(s.pending) != 1 {
			t.Fatalf("Expected 1 pending buyer, got %d", len(s.pending))
		}
		if !input.recorded("/invite BuyerChar") {
			t.Error("Expected invite command to be sent")
		}
	})

	t.Run("Duplicate order ignored", func(t *testing.T) {
		order := models.BuyOrder{ItemID: "dense-fossil", ItemAmount: 20, CurrencyID: "chaos-orb", CurrencyAmount: 120}
		s.handleBuyEvent(context.Background(), "BuyerChar", order)
		if len(s.pending) != 1 {
			t.Errorf("Expected pending list unchanged, got %d", len(s.pending))
		}
	})

	t.Run("Lowball goes to done list", func(t *testing.T) {
		order := models.BuyOrder{ItemID: "dense-fossil", ItemAmount: 20, CurrencyID: "chaos-orb", CurrencyAmount: 60}
		s.handleBuyEvent(context.Background(), "CheapSkate", order)
		if len(s.pending) != 1 {
			t.Errorf("Expected lowball not queued, got %d pending", len(s.pending))
		}
		if _, ok := s.done["CheapSkate"]; !ok {
			t.Error("Expected lowballer on the done list")
		}
	})

	t.Run("Sold out gets notified", func(t *testing.T) {
		order := models.BuyOrder{ItemID: "dense-fossil", ItemAmount: 500, CurrencyID: "chaos-orb", CurrencyAmount: 3000}
		s.handleBuyEvent(context.Background(), "BigBuyer", order)
		if !input.recorded("@BigBuyer sold") {
			t.Error("Expected sold notice to be sent")
		}
		if _, ok := s.done["BigBuyer"]; !ok {
			t.Error("Expected notified buyer on the done list")
		}
	})

	t.Run("Unknown item ignored", func(t *testing.T) {
		order := models.BuyOrder{ItemID: "mystery-item", ItemAmount: 10, CurrencyID: "chaos-orb", CurrencyAmount: 100}
		s.handleBuyEvent(context.Background(), "Confused", order)
		if len(s.pending) != 1 {
			t.Errorf("Expected unknown item not queued, got %d pending", len(s.pending))
		}
	})
}

func TestSellerPurgeDone(t *testing.T) {
	events := &fakeEvents{}
	screen := testScreen(&fakeVision{}, &fakeInput{}, &fakeOCR{}, events)
	s := testSeller(t, screen, events)

	s.done["old"] = time.Now().Add(-2 * doneTTL)
	s.done["fresh"] = time.Now()
	s.purgeDone()

	if _, ok := s.done["old"]; ok {
		t.Error("Expected expired entry purged")
	}
	if _, ok := s.done["fresh"]; !ok {
		t.Error("Expected fresh entry kept")
	}
}

func TestSellerRemovePending(t *testing.T) {
	events := &fakeEvents{}
	screen := testScreen(&fakeVision{}, &fakeInput{}, &fakeOCR{}, events)
	s := testSeller(t, screen, events)

	s.pending = []buyRequest{
		{CharName: "A"},
		{CharName: "B"},
		{CharName: "C"},
	}
	s.removePending("B")

	if len(s.pending) != 2 {
		t.Fatalf("Expected 2 pending, got %d", len(s.pending))
	}
	for _, p := range s.pending {
		if p.CharName == "B" {
			t.Error("Expected B removed")
		}
	}
}

func TestScreenSendWhisper(t *testing.T) {
	input := &fakeInput{}
	screen := testScreen(&fakeVision{}, input, &fakeOCR{}, &fakeEvents{})

	if err := screen.SendWhisper(context.Background(), "hello there"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	for _, want := range []string{"focus", "down ctrl", "press enter", "up ctrl", "paste hello there"} {
		if !input.recorded(want) {
			t.Errorf("Expected action %q recorded", want)
		}
	}
}

func TestScreenInvites(t *testing.T) {
	vision := &fakeVision{}
	vision.set(invitePartyTmpl, regionFull, Match{X: 10, Y: 20})
	vision.set(inviteChallengeTmpl, regionFull, Match{X: 30, Y: 40})
	screen := testScreen(vision, &fakeInput{}, &fakeOCR{}, &fakeEvents{})

	invites := screen.Invites(context.Background())
	if len(invites) != 2 {
		t.Fatalf("Expected 2 invites, got %d", len(invites))
	}
	kinds := map[string]bool{}
	for _, inv := range invites {
		kinds[inv.Kind] = true
	}
	if !kinds["party"] || !kinds["challenge"] {
		t.Errorf("Expected party and challenge kinds, got %v", kinds)
	}
}

func TestScreenCountItems(t *testing.T) {
	vision := &fakeVision{}
	vision.set("chaos-orb-10", regionInventory, Match{X: 1, Y: 1}, Match{X: 2, Y: 2})
	screen := testScreen(vision, &fakeInput{}, &fakeOCR{}, &fakeEvents{})

	found := screen.CountItems(context.Background(), "chaos-orb", 10, regionInventory)
	if len(found) != 2 {
		t.Fatalf("Expected 2 stacks, got %d", len(found))
	}
	for _, m := range found {
		if m.Count != 10 {
			t.Errorf("Expected stack count 10, got %d", m.Count)
		}
	}
}
