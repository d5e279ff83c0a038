package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Screen region names understood by the vision collaborator.
const (
	regionFull        = ""
	regionInventory   = "inventory"
	regionStash       = "stash"
	regionTradeTop    = "trade_top"
	regionTradeBottom = "trade_bottom"
)

// Template ids. Thresholds come from configuration; 0.8 is the
// fallback for templates without an entry.
const (
	tmplStashHeader   = "stash_header"
	tmplStashEmpty    = "stash_currency_empty"
	tmplTradeWindow   = "trade_window"
	tmplTradeAccepted = "trade_accepted"
	tmplAcceptButton  = "trade_accept_button"
	tmplPartyFrame    = "party_frame"
	tmplLoading       = "loading_screen"
	tmplHideoutBanner = "hideout_banner"
	tmplChatInput     = "chat_input"
	tmplEmptySlot     = "inventory_empty_slot"
	tmplAlertClose    = "alert_close"
	tmplPriceDropdown = "price_dropdown"

	invitePartyTmpl     = "invite_party"
	inviteTradeTmpl     = "invite_trade"
	inviteFriendTmpl    = "invite_friend"
	inviteChallengeTmpl = "invite_challenge"
)

const defaultThreshold = 0.8

// Screen wraps the raw collaborators with the recurring checks and
// input choreography both state machines share.
type Screen struct {
	vision     Vision
	input      Input
	ocr        OCR
	thresholds map[string]float64
	logger     *slog.Logger
}

func NewScreen(c Collabs, thresholds map[string]float64, logger *slog.Logger) *Screen {
	return &Screen{
		vision:     c.Vision,
		input:      c.Input,
		ocr:        c.OCR,
		thresholds: thresholds,
		logger:     logger.With("component", "screen"),
	}
}

func (s *Screen) threshold(template string) float64 {
	if t, ok := s.thresholds[template]; ok {
		return t
	}
	return defaultThreshold
}

// matches runs one template lookup; vision errors degrade to "no
// match" so callers retry within their current state.
func (s *Screen) matches(ctx context.Context, template, region string) []Match {
	found, err := s.vision.Match(ctx, template, s.threshold(template), region)
	if err != nil {
		s.logger.Debug("Vision match failed", "template", template, "error", err)
		return nil
	}
	return found
}

func (s *Screen) visible(ctx context.Context, template, region string) bool {
	return len(s.matches(ctx, template, region)) > 0
}

func (s *Screen) StashOpened(ctx context.Context) bool {
	return s.visible(ctx, tmplStashHeader, regionFull)
}

// StashDepleted reports the buyout currency tab showing empty.
func (s *Screen) StashDepleted(ctx context.Context) bool {
	return s.visible(ctx, tmplStashEmpty, regionStash)
}

func (s *Screen) TradeOpened(ctx context.Context) bool {
	return s.visible(ctx, tmplTradeWindow, regionFull)
}

func (s *Screen) TradeAccepted(ctx context.Context) bool {
	return s.visible(ctx, tmplTradeAccepted, regionFull)
}

func (s *Screen) InParty(ctx context.Context) bool {
	return s.visible(ctx, tmplPartyFrame, regionFull)
}

func (s *Screen) Loading(ctx context.Context) bool {
	return s.visible(ctx, tmplLoading, regionFull)
}

func (s *Screen) InHideout(ctx context.Context) bool {
	return s.visible(ctx, tmplHideoutBanner, regionFull)
}

func (s *Screen) ChatOpened(ctx context.Context) bool {
	return s.visible(ctx, tmplChatInput, regionFull)
}

func (s *Screen) EmptySlots(ctx context.Context) []Match {
	return s.matches(ctx, tmplEmptySlot, regionInventory)
}

func (s *Screen) RemoveAlerts(ctx context.Context) {
	for _, m := range s.matches(ctx, tmplAlertClose, regionFull) {
		s.input.Click(ctx, m.X, m.Y, "left", 1, false)
	}
}

// Invite is one pending invite popup with its classified kind.
type Invite struct {
	Match
	Kind string
}

// Invites scans for the known invite popups.
func (s *Screen) Invites(ctx context.Context) []Invite {
	kinds := map[string]string{
		invitePartyTmpl:     "party",
		inviteTradeTmpl:     "trade",
		inviteFriendTmpl:    "friend",
		inviteChallengeTmpl: "challenge",
	}
	var invites []Invite
	for tmpl, kind := range kinds {
		for _, m := range s.matches(ctx, tmpl, regionFull) {
			invites = append(invites, Invite{Match: m, Kind: kind})
		}
	}
	return invites
}

// AnswerInvite clicks the accept or decline button of an invite popup.
// Button offsets are relative to the popup's matched anchor.
func (s *Screen) AnswerInvite(ctx context.Context, inv Invite, accept bool) error {
	x, y := inv.X+100, inv.Y+130
	if !accept {
		x = inv.X + 300
	}
	if err := s.input.MouseMove(ctx, x, y); err != nil {
		return err
	}
	return s.input.Click(ctx, x, y, "left", 2, false)
}

// InviteAccountText OCRs the name line of an invite popup.
func (s *Screen) InviteAccountText(ctx context.Context, inv Invite) (string, error) {
	region := Rect{X: inv.X, Y: inv.Y + 35, W: 380, H: 30}
	return s.ocr.ReadText(ctx, region)
}

// ChatCommand opens the chat line, pastes the command and sends it.
func (s *Screen) ChatCommand(ctx context.Context, cmd string) error {
	if err := s.input.Press(ctx, "enter"); err != nil {
		return err
	}
	if err := s.input.Paste(ctx, cmd); err != nil {
		return err
	}
	return s.input.Press(ctx, "enter")
}

// SendWhisper delivers a whisper through the reply shortcut, matching
// the game's ctrl+enter / paste / enter sequence.
func (s *Screen) SendWhisper(ctx context.Context, whisper string) error {
	if err := s.input.Focus(ctx); err != nil {
		return err
	}
	if err := s.input.KeyDown(ctx, "ctrl"); err != nil {
		return err
	}
	if err := s.input.Press(ctx, "enter"); err != nil {
		s.input.KeyUp(ctx, "ctrl")
		return err
	}
	if err := s.input.KeyUp(ctx, "ctrl"); err != nil {
		return err
	}
	if err := s.input.Paste(ctx, whisper); err != nil {
		return err
	}
	return s.input.Press(ctx, "enter")
}

// CountItems finds stacks of an item with a specific stack size in a
// region. The stack size is part of the template id, mirroring how
// the template assets are cut.
func (s *Screen) CountItems(ctx context.Context, itemID string, amount int, region string) []Match {
	template := fmt.Sprintf("%s-%d", itemID, amount)
	found := s.matches(ctx, template, region)
	for i := range found {
		found[i].Count = amount
	}
	return found
}

// TakeFromStash ctrl-clicks the stash position of an item until the
// requested amount (in full stacks of ten) is moved to the inventory.
func (s *Screen) TakeFromStash(ctx context.Context, itemID string, amount int) error {
	spots := s.matches(ctx, itemID, regionStash)
	if len(spots) == 0 {
		return fmt.Errorf("item %s not visible in stash", itemID)
	}
	clicks := int(math.Ceil(float64(amount) / 10))
	spot := spots[0]
	if err := s.input.MouseMove(ctx, spot.X, spot.Y); err != nil {
		return err
	}
	for i := 0; i < clicks; i++ {
		if err := s.input.Click(ctx, spot.X, spot.Y, "left", 1, true); err != nil {
			return err
		}
		sleep(ctx, 250*time.Millisecond)
	}
	return nil
}

// SetStashPrice drives the pricing dropdown for a stash item. The
// click offsets follow the fixed layout of the pricing popup.
func (s *Screen) SetStashPrice(ctx context.Context, itemID, price string) error {
	spots := s.matches(ctx, itemID, regionStash)
	if len(spots) == 0 {
		return fmt.Errorf("item %s not visible in stash", itemID)
	}
	spot := spots[0]
	if err := s.input.Click(ctx, spot.X, spot.Y, "right", 1, false); err != nil {
		return err
	}
	sleep(ctx, 300*time.Millisecond)

	var dropdown []Match
	for i := 0; i < 3; i++ {
		dropdown = s.matches(ctx, tmplPriceDropdown, regionFull)
		if len(dropdown) > 0 {
			break
		}
		sleep(ctx, 200*time.Millisecond)
	}
	if len(dropdown) == 0 {
		return fmt.Errorf("price dropdown not found for %s", itemID)
	}

	x, y := dropdown[0].X, dropdown[0].Y
	if err := s.input.Click(ctx, x, y, "left", 1, false); err != nil {
		return err
	}
	// Select "Exact Price", focus the price box, paste, accept.
	if err := s.input.Click(ctx, x, y+80, "left", 1, false); err != nil {
		return err
	}
	if err := s.input.Click(ctx, x+55, y, "left", 1, false); err != nil {
		return err
	}
	if err := s.input.KeyDown(ctx, "ctrl"); err != nil {
		return err
	}
	s.input.Press(ctx, "a")
	s.input.KeyUp(ctx, "ctrl")
	if err := s.input.Paste(ctx, price); err != nil {
		return err
	}
	return s.input.Click(ctx, x+295, y+45, "left", 1, false)
}

// PlaceItems ctrl-clicks item stacks into the trade window.
func (s *Screen) PlaceItems(ctx context.Context, coords []Match) error {
	for _, m := range coords {
		if err := s.input.MouseMove(ctx, m.X, m.Y); err != nil {
			return err
		}
		sleep(ctx, 50*time.Millisecond)
		if err := s.input.Click(ctx, m.X, m.Y, "left", 1, true); err != nil {
			return err
		}
	}
	// Park the cursor off the item grid so tooltips do not cover
	// the next vision pass.
	return s.input.MouseMove(ctx, 1350, 500)
}

// LeaveParty opens the context menu on the own party portrait and
// picks the leave entry. Offsets follow the fixed party frame layout.
func (s *Screen) LeaveParty(ctx context.Context) error {
	frames := s.matches(ctx, tmplPartyFrame, regionFull)
	if len(frames) == 0 {
		return fmt.Errorf("party frame not visible")
	}
	frame := frames[0]
	if err := s.input.Click(ctx, frame.X, frame.Y, "right", 1, false); err != nil {
		return err
	}
	sleep(ctx, 200*time.Millisecond)
	return s.input.Click(ctx, frame.X+40, frame.Y+60, "left", 1, false)
}

// AcceptTrade clicks the trade accept button.
func (s *Screen) AcceptTrade(ctx context.Context) error {
	buttons := s.matches(ctx, tmplAcceptButton, regionFull)
	if len(buttons) == 0 {
		return fmt.Errorf("accept button not visible")
	}
	return s.input.Click(ctx, buttons[0].X, buttons[0].Y, "left", 1, false)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
