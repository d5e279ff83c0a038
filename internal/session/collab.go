// Package session drives the buyer and seller trade state machines
// against the live game surface through external collaborators.
package session

import (
	"context"
	"time"

	"github.com/arvx/poeflip/internal/models"
)

// Match is one template hit on screen. Count carries the stack size
// the matched template encodes (0 when not applicable).
type Match struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Count int `json:"count"`
}

// Rect is a screen region in pixels.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Vision matches image templates against the current screen.
// Confidence thresholds are per-template configuration, not computed.
type Vision interface {
	Match(ctx context.Context, template string, threshold float64, region string) ([]Match, error)
}

// Input injects raw mouse/keyboard/clipboard primitives. Implementations
// report delivery failure only; they never interpret the screen.
type Input interface {
	Focus(ctx context.Context) error
	MouseMove(ctx context.Context, x, y int) error
	Click(ctx context.Context, x, y int, button string, clicks int, ctrl bool) error
	Press(ctx context.Context, key string) error
	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error
	Paste(ctx context.Context, text string) error
}

// OCR reads text from a screen region.
type OCR interface {
	ReadText(ctx context.Context, region Rect) (string, error)
}

// EventSource produces the structured game-log events of the most
// recent window, newest first. Each call re-scans from the current
// time backward.
type EventSource interface {
	Recent(ctx context.Context, window time.Duration) ([]models.Event, error)
}

// Collabs bundles the external collaborators a state machine needs.
type Collabs struct {
	Vision Vision
	Input  Input
	OCR    OCR
	Events EventSource
}
