package listing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
	handshakeTimeout      = 5 * time.Second
	readTimeout           = 60 * time.Second
)

// LiveSearch subscribes to the listing API's live search channel and
// signals activity whenever new listing ids arrive for the saved
// search. Consumers use the hint to poll ahead of schedule; the
// regular pipeline still does the filtering.
type LiveSearch struct {
	url    string
	logger *slog.Logger
	hints  chan struct{}
}

func NewLiveSearch(wsURL string, logger *slog.Logger) *LiveSearch {
	return &LiveSearch{
		url:    wsURL,
		logger: logger.With("component", "livesearch"),
		hints:  make(chan struct{}, 1),
	}
}

// Hints signals one element per burst of live activity. The channel is
// never closed; drops are fine since a hint only advances a poll.
func (ls *LiveSearch) Hints() <-chan struct{} { return ls.hints }

// Run keeps the websocket subscription alive until the context is
// cancelled, reconnecting with capped exponential delay.
func (ls *LiveSearch) Run(ctx context.Context) error {
	delay := initialReconnectDelay
	for {
		if err := ls.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ls.logger.Warn("Live search connection lost", "error", err, "reconnectIn", delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (ls *LiveSearch) listen(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, ls.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ls.logger.Info("Live search connected", "url", ls.url)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var payload struct {
			New []string `json:"new"`
		}
		if err := json.Unmarshal(message, &payload); err != nil {
			ls.logger.Debug("Unparsable live message", "error", err)
			continue
		}
		if len(payload.New) == 0 {
			continue
		}

		select {
		case ls.hints <- struct{}{}:
		default:
		}
	}
}
