// Package listing implements the trade listing API client: query
// building, proxy-rotated requests and response deserialization.
package listing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/arvx/poeflip/internal/models"
)

// ErrAPIUnavailable marks transport failures and non-200 responses.
// The caller decides backoff; the client never retries internally.
var ErrAPIUnavailable = errors.New("trade api unavailable")

// ErrAPIOveruse marks HTTP 429 and malformed result payloads. Handled
// the same as ErrAPIUnavailable, distinguished for observability.
var ErrAPIOveruse = errors.New("trade api overuse")

const (
	requestTimeout = 15 * time.Second

	// requestsPerSecond keeps the client well under the API's burst
	// limit; overuse beyond this still surfaces as ErrAPIOveruse.
	requestsPerSecond = 0.5
	burstSize         = 2
)

// Client issues search requests against the listing API. One Client is
// shared by all trader workers; the limiter serializes their requests.
type Client struct {
	baseURL string
	league  string
	proxies []Proxy
	limiter *rate.Limiter
	logger  *slog.Logger
	rng     *rand.Rand
}

func NewClient(baseURL, league string, proxies []Proxy, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		league:  league,
		proxies: proxies,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize),
		logger:  logger.With("component", "listing"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Response is the deserialized search payload. The API orders the
// result object by price ascending and downstream consumers contact
// counterparties in that order, so entries are kept as a slice in
// document order instead of a map.
type Response struct {
	Results []ResultEntry
}

type ResultEntry struct {
	ID      string
	Listing Listing `json:"listing"`
}

// UnmarshalJSON walks the result object token by token; a plain map
// would randomize the API's price ordering. Results stays nil when
// the result key is absent, which the client treats as overuse.
func (r *Response) UnmarshalJSON(data []byte) error {
	var doc struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	r.Results = nil
	if doc.Result == nil {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(doc.Result))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("result is not an object")
	}

	r.Results = []ResultEntry{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		id, _ := keyTok.(string)
		var entry ResultEntry
		if err := dec.Decode(&entry); err != nil {
			return err
		}
		entry.ID = id
		r.Results = append(r.Results, entry)
	}
	return nil
}

type Listing struct {
	Account Account   `json:"account"`
	Offers  []Offer   `json:"offers"`
	Whisper string    `json:"whisper"`
	Indexed time.Time `json:"indexed"`
}

type Account struct {
	Name              string        `json:"name"`
	LastCharacterName string        `json:"lastCharacterName"`
	Online            *OnlineStatus `json:"online"`
}

// OnlineStatus is present for online accounts; Status is "afk" or
// "dnd" for away accounts and empty otherwise.
type OnlineStatus struct {
	Status string `json:"status"`
}

type Offer struct {
	Exchange ExchangeSide `json:"exchange"`
	Item     ItemSide     `json:"item"`
}

// ExchangeSide is what the buyer pays.
type ExchangeSide struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	Whisper  string  `json:"whisper"`
}

// ItemSide is what the seller provides.
type ItemSide struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	Stock    int     `json:"stock"`
	Whisper  string  `json:"whisper"`
}

// Search posts a query for the given item spec. Bulk categories go
// through the exchange endpoint, everything else through search.
func (c *Client) Search(ctx context.Context, spec models.ItemSpec, bulk bool) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/search/%s", c.baseURL, url.PathEscape(c.league))
	var body any = buildSearchQuery(spec)
	if bulk {
		endpoint = fmt.Sprintf("%s/exchange/%s", c.baseURL, url.PathEscape(c.league))
		body = buildExchangeQuery(spec)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", browserUserAgent)

	httpClient := c.newHTTPClient()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status 429", ErrAPIOveruse)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAPIUnavailable, resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrAPIUnavailable, err)
	}
	if out.Results == nil {
		// The API answers 200 with an error document when paging is
		// exhausted or the query is being throttled.
		return nil, fmt.Errorf("%w: missing result", ErrAPIOveruse)
	}
	return &out, nil
}

// newHTTPClient builds a client routed through one proxy picked
// uniformly at random. Without a proxy pool, requests go direct.
func (c *Client) newHTTPClient() *http.Client {
	client := &http.Client{Timeout: requestTimeout}
	if len(c.proxies) == 0 {
		return client
	}

	proxy := c.proxies[c.rng.Intn(len(c.proxies))]
	proxyURL := proxy.URL()
	c.logger.Debug("Using proxy", "proxy", proxyURL.Host)
	client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	return client
}

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// buildExchangeQuery renders the bulk (currency exchange) query body.
func buildExchangeQuery(spec models.ItemSpec) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"status":  map[string]any{"option": "online"},
			"have":    []string{spec.BuyoutCurrency},
			"want":    []string{spec.ItemID},
			"minimum": spec.MinStockAmount,
		},
		"sort": map[string]any{"have": "asc"},
	}
}

// buildSearchQuery renders the single-listing query body.
func buildSearchQuery(spec models.ItemSpec) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"status": map[string]any{"option": "online"},
			"type":   spec.ItemID,
			"filters": map[string]any{
				"trade_filters": map[string]any{
					"filters": map[string]any{
						"price": map[string]any{
							"min": spec.MinPrice,
							"max": spec.MaxPrice,
						},
					},
				},
			},
		},
		"sort": map[string]any{"price": "asc"},
	}
}
