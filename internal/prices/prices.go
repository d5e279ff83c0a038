// Package prices keeps a refreshed view of reference currency values
// from the public price index.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/arvx/poeflip/internal/faulttolerance"
)

const (
	refreshInterval = 5 * time.Minute
	requestTimeout  = 10 * time.Second
)

// Watcher polls the currency overview and caches the premium-currency
// chaos equivalent, which the seller uses to value mixed-currency
// payments.
type Watcher struct {
	baseURL string
	league  string
	client  *http.Client
	retryer *faulttolerance.Retryer
	logger  *slog.Logger

	mu         sync.RWMutex
	exaltValue float64
}

func NewWatcher(baseURL, league string, retryer *faulttolerance.Retryer, logger *slog.Logger) *Watcher {
	return &Watcher{
		baseURL: baseURL,
		league:  league,
		client:  &http.Client{Timeout: requestTimeout},
		retryer: retryer,
		logger:  logger.With("component", "prices"),
	}
}

// ExaltValue returns the cached chaos value of one exalted orb, or 0
// before the first successful refresh.
func (w *Watcher) ExaltValue() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.exaltValue
}

// Run refreshes the cache on a fixed interval until the context is
// cancelled. A failed refresh keeps the previous value.
func (w *Watcher) Run(ctx context.Context) error {
	w.refresh(ctx)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *Watcher) refresh(ctx context.Context) {
	err := w.retryer.Execute(ctx, func() error {
		value, err := w.fetchExaltValue(ctx)
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.exaltValue = value
		w.mu.Unlock()
		w.logger.Info("Refreshed prices", "exaltChaosValue", value)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		w.logger.Error("Price refresh failed", "error", err)
	}
}

type currencyOverview struct {
	Lines []struct {
		CurrencyTypeName string  `json:"currencyTypeName"`
		ChaosEquivalent  float64 `json:"chaosEquivalent"`
	} `json:"lines"`
}

func (w *Watcher) fetchExaltValue(ctx context.Context) (float64, error) {
	endpoint := fmt.Sprintf("%s/currencyoverview?league=%s&type=Currency",
		w.baseURL, url.QueryEscape(w.league))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price api returned status %d", resp.StatusCode)
	}

	var overview currencyOverview
	if err := json.NewDecoder(resp.Body).Decode(&overview); err != nil {
		return 0, fmt.Errorf("decode overview: %w", err)
	}

	for _, line := range overview.Lines {
		if line.CurrencyTypeName == "Exalted Orb" {
			return line.ChaosEquivalent, nil
		}
	}
	return 0, fmt.Errorf("exalted orb not in overview")
}
