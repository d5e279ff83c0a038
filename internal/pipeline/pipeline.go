// Package pipeline cleans raw listing responses into ranked, priced
// trade candidates.
package pipeline

import (
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/arvx/poeflip/internal/listing"
	"github.com/arvx/poeflip/internal/models"
)

// fossilStockCap limits fossil-family listings to 20 units per trade.
// Domain rule, not user-configurable.
const fossilStockCap = 20

// Pipeline turns API responses into candidates. The ignored set is
// loaded once at startup; account matching is case-insensitive exact.
type Pipeline struct {
	ignored      map[string]struct{}
	maxBulkPrice float64
	maxStackSize int
	logger       *slog.Logger
}

func New(ignored map[string]struct{}, maxBulkPrice float64, maxStackSize int, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		ignored:      ignored,
		maxBulkPrice: maxBulkPrice,
		maxStackSize: maxStackSize,
		logger:       logger.With("component", "pipeline"),
	}
}

// BuildCandidates filters and prices the listings of one response.
// Survivors keep arrival order, which is the API's price-ascending
// order; priority sorting happens at dispatch time against the
// counterparty store.
func (p *Pipeline) BuildCandidates(resp *listing.Response, spec models.ItemSpec) []models.Candidate {
	candidates := make([]models.Candidate, 0, len(resp.Results))

	for _, entry := range resp.Results {
		l := entry.Listing
		if len(l.Offers) == 0 {
			continue
		}
		offer := l.Offers[0]

		if p.isIgnored(l.Account.Name) {
			continue
		}

		price := offer.Exchange.Amount
		stock := offer.Item.Stock
		itemID := offer.Item.Currency

		if strings.Contains(itemID, "fossil") && stock > fossilStockCap {
			stock = fossilStockCap
		}
		if itemID == "simulacrum-splinter" && stock%2 == 1 {
			// Splinters trade in pairs; an odd stack leaves a remainder.
			stock--
		}
		if offer.Item.Amount > 1 {
			// Listed in proportions; normalize to per-unit price.
			price = price / offer.Item.Amount
		}
		if price > spec.MaxStockPrice {
			continue
		}
		if stock > p.maxStackSize {
			stock = p.maxStackSize
		}

		bulkPrice, stock := CalcBulkPrice(price, stock, p.maxBulkPrice)
		if stock < spec.MinStockAmount {
			continue
		}

		whisper := renderWhisper(l.Whisper, offer.Item.Whisper, offer.Exchange.Whisper, stock, bulkPrice)

		candidates = append(candidates, models.Candidate{
			AccountName:  l.Account.Name,
			LastCharName: l.Account.LastCharacterName,
			Online:       l.Account.Online != nil,
			AFK:          l.Account.Online != nil && l.Account.Online.Status != "",
			BuyPrice:     price,
			BuyCurrency:  offer.Exchange.Currency,
			ItemID:       itemID,
			ItemName:     itemDisplayName(itemID),
			Stock:        stock,
			BulkPrice:    bulkPrice,
			Indexed:      l.Indexed,
			Whisper:      whisper,
		})
	}

	p.logger.Debug("Built candidates", "item", spec.ItemID, "raw", len(resp.Results), "kept", len(candidates))
	return candidates
}

// CalcBulkPrice reduces stock so the total stays within maxBulkPrice.
// When the reduced stock splits into at least four groups of five, it
// is rounded down to a multiple of five to avoid partial-stack trade
// messages. Smaller stacks are deliberately left unrounded.
func CalcBulkPrice(price float64, stock int, maxBulkPrice float64) (int, int) {
	bulkPrice := price * float64(stock)
	if bulkPrice > maxBulkPrice {
		stock = int(math.Floor(maxBulkPrice / price))
		if float64(stock)/5 >= 4 {
			stock = stock / 5 * 5
		}
		bulkPrice = price * float64(stock)
	}
	return int(math.Round(bulkPrice)), stock
}

func (p *Pipeline) isIgnored(accountName string) bool {
	_, ok := p.ignored[strings.ToLower(accountName)]
	return ok
}

// renderWhisper composes the API-provided message template with its
// item and exchange parts, then fills the two placeholder slots with
// the final stock and bulk price.
func renderWhisper(tmpl, itemPart, exchangePart string, stock, bulkPrice int) string {
	exchangePart = strings.Replace(exchangePart, "{0}", "{1}", 1)
	msg := strings.Replace(tmpl, "{0}", itemPart, 1)
	msg = strings.Replace(msg, "{1}", exchangePart, 1)
	msg = strings.Replace(msg, "{0}", strconv.Itoa(stock), 1)
	msg = strings.Replace(msg, "{1}", strconv.Itoa(bulkPrice), 1)
	return msg
}

// itemDisplayName converts an item id to its human-readable name,
// e.g. "polished-harbinger-scarab" -> "Polished Harbinger Scarab".
func itemDisplayName(itemID string) string {
	parts := strings.Split(itemID, "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}
