// Package gameio talks to the local vision/input helper process over
// a websocket request/response channel. The helper owns the screen
// capture, template matching, OCR and raw input injection; this client
// only moves calls and results across the socket.
package gameio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arvx/poeflip/internal/models"
	"github.com/arvx/poeflip/internal/session"
)

const (
	dialTimeout  = 5 * time.Second
	callTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// Client is a synchronous JSON request/response client over one
// websocket connection. Calls are serialized; a transport error drops
// the connection and the next call redials.
type Client struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

func NewClient(url string, logger *slog.Logger) *Client {
	return &Client{
		url:    url,
		logger: logger.With("component", "gameio"),
	}
}

// Collabs exposes the client through the collaborator interfaces.
func (c *Client) Collabs() session.Collabs {
	return session.Collabs{Vision: c, Input: c, OCR: c, Events: c}
}

// Close drops the connection. Safe to call at any time.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial gameio: %w", err)
	}
	c.conn = conn
	c.logger.Info("Connected", "url", c.url)
	return nil
}

// call sends one request and waits for its response. Stray responses
// with older ids are skipped; they belong to calls that timed out.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}

	c.nextID++
	req := request{ID: c.nextID, Method: method, Params: params}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		c.drop()
		return fmt.Errorf("gameio %s: %w", method, err)
	}

	deadline := time.Now().Add(callTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)

	for {
		var resp response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.drop()
			return fmt.Errorf("gameio %s: %w", method, err)
		}
		if resp.ID != req.ID {
			continue
		}
		if resp.Error != "" {
			return fmt.Errorf("gameio %s: %s", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("gameio %s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Match implements session.Vision.
func (c *Client) Match(ctx context.Context, template string, threshold float64, region string) ([]session.Match, error) {
	params := map[string]any{
		"template":  template,
		"threshold": threshold,
	}
	if region != "" {
		params["region"] = region
	}
	var found []session.Match
	if err := c.call(ctx, "vision.match", params, &found); err != nil {
		return nil, err
	}
	return found, nil
}

func (c *Client) Focus(ctx context.Context) error {
	return c.call(ctx, "input.focus", nil, nil)
}

func (c *Client) MouseMove(ctx context.Context, x, y int) error {
	return c.call(ctx, "input.mouse_move", map[string]any{"x": x, "y": y}, nil)
}

func (c *Client) Click(ctx context.Context, x, y int, button string, clicks int, ctrl bool) error {
	return c.call(ctx, "input.click", map[string]any{
		"x": x, "y": y, "button": button, "clicks": clicks, "ctrl": ctrl,
	}, nil)
}

func (c *Client) Press(ctx context.Context, key string) error {
	return c.call(ctx, "input.press", map[string]any{"key": key}, nil)
}

func (c *Client) KeyDown(ctx context.Context, key string) error {
	return c.call(ctx, "input.key_down", map[string]any{"key": key}, nil)
}

func (c *Client) KeyUp(ctx context.Context, key string) error {
	return c.call(ctx, "input.key_up", map[string]any{"key": key}, nil)
}

func (c *Client) Paste(ctx context.Context, text string) error {
	return c.call(ctx, "input.paste", map[string]any{"text": text}, nil)
}

// ReadText implements session.OCR.
func (c *Client) ReadText(ctx context.Context, region session.Rect) (string, error) {
	var text string
	if err := c.call(ctx, "ocr.read", region, &text); err != nil {
		return "", err
	}
	return text, nil
}

// wireEvent is the helper's event encoding.
type wireEvent struct {
	Kind     string `json:"kind"`
	CharName string `json:"char_name"`
	Message  string `json:"message"`
	At       int64  `json:"at"`
	Buy      *struct {
		ItemID         string `json:"item_id"`
		ItemAmount     int    `json:"item_amount"`
		CurrencyID     string `json:"currency_id"`
		CurrencyAmount int    `json:"currency_amount"`
	} `json:"buy,omitempty"`
}

// Recent implements session.EventSource.
func (c *Client) Recent(ctx context.Context, window time.Duration) ([]models.Event, error) {
	params := map[string]any{"window_ms": window.Milliseconds()}
	var raw []wireEvent
	if err := c.call(ctx, "events.recent", params, &raw); err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(raw))
	for _, w := range raw {
		ev := models.Event{
			Kind:     models.EventKind(w.Kind),
			CharName: w.CharName,
			Message:  w.Message,
			At:       time.UnixMilli(w.At),
		}
		if w.Buy != nil {
			ev.Buy = &models.BuyOrder{
				ItemID:         w.Buy.ItemID,
				ItemAmount:     w.Buy.ItemAmount,
				CurrencyID:     w.Buy.CurrencyID,
				CurrencyAmount: w.Buy.CurrencyAmount,
			}
		}
		events = append(events, ev)
	}
	return events, nil
}
