// Package models defines the domain models used across the application.
package models

import "time"

// ItemSpec is the per-item trading configuration. The trader re-reads
// the spec file every poll cycle and mutates its in-memory copy when a
// buy limit is reached (price/limit back-off).
type ItemSpec struct {
	// ItemID is the API identifier of the item (e.g. "polished-harbinger-scarab").
	ItemID string `mapstructure:"item_id" json:"item_id"`

	// Type is the item category; bulk categories go through the exchange API.
	Type string `mapstructure:"type" json:"type"`

	// MinPrice/MaxPrice bound single-listing searches.
	MinPrice float64 `mapstructure:"min_price" json:"min_price"`
	MaxPrice float64 `mapstructure:"max_price" json:"max_price"`

	// MaxStockPrice is the per-unit price ceiling for bulk listings.
	MaxStockPrice float64 `mapstructure:"max_stock_price" json:"max_stock_price"`

	// MinStockAmount is the smallest stock worth contacting for.
	MinStockAmount int `mapstructure:"min_stock_amount" json:"min_stock_amount"`

	// BuyLimit stops buying once the ledger holds this many units.
	BuyLimit int `mapstructure:"buy_limit" json:"buy_limit"`

	// BuyoutCurrency is the currency offered to sellers.
	BuyoutCurrency string `mapstructure:"buyout_currency" json:"buyout_currency"`

	Disabled bool `mapstructure:"disabled" json:"disabled"`
}

// Candidate is a cleaned, priced listing eligible for contact.
// Immutable after creation; consumed once by the dispatch step.
type Candidate struct {
	AccountName  string
	LastCharName string

	// Online is false for offline accounts; AFK marks "afk"/"dnd" status.
	Online bool
	AFK    bool

	// BuyPrice is the normalized per-unit price in BuyCurrency.
	BuyPrice    float64
	BuyCurrency string

	ItemID   string
	ItemName string

	// Stock is the unit count after bulk-price reduction.
	Stock int

	// BulkPrice is the rounded total for Stock units.
	BulkPrice int

	// Indexed is when the listing was published.
	Indexed time.Time

	// Whisper is the fully rendered contact message.
	Whisper string
}

// Counterparty is the persisted record of a known trade partner.
// At most one row exists per account name.
type Counterparty struct {
	AccountName  string    `gorm:"column:account_name;primaryKey"`
	LastCharName string    `gorm:"column:last_char_name"`
	Category     string    `gorm:"column:category"`
	ItemID       string    `gorm:"column:item_id"`
	ItemName     string    `gorm:"column:item_name"`
	Price        float64   `gorm:"column:price"`
	Stock        int       `gorm:"column:stock"`
	Currency     string    `gorm:"column:currency"`
	LastContact  time.Time `gorm:"column:last_contact"`

	// Priority lowers the effective re-contact delay for trusted
	// counterparties. Starts at 10, bumped by successful trades.
	Priority   int `gorm:"column:priority"`
	TradeCount int `gorm:"column:trade_count"`
}

func (Counterparty) TableName() string { return "counterparties" }

// IgnoredUser is an account that is never contacted. Seeded from
// defaults plus an external file; never auto-removed.
type IgnoredUser struct {
	AccountName string `gorm:"column:account_name;primaryKey"`
}

func (IgnoredUser) TableName() string { return "ignored_users" }

// TradeSummary is one entry of the per-item ledger document.
type TradeSummary struct {
	ItemID        string  `json:"item_id"`
	ItemAmount    int     `json:"item_amount"`
	ItemBuyPrice  float64 `json:"item_buy_price"`
	ItemSellPrice float64 `json:"item_sell_price"`
}

// EventKind classifies a structured game-log event.
type EventKind string

const (
	EventBuy       EventKind = "buy"
	EventJoined    EventKind = "joined"
	EventLeft      EventKind = "left"
	EventAccepted  EventKind = "accepted"
	EventCancelled EventKind = "cancelled"
	EventError     EventKind = "error"
	EventAreaError EventKind = "area_error"
)

// BuyOrder is the parsed body of a buy whisper: the item the sender
// wants and the currency they offer.
type BuyOrder struct {
	ItemID         string
	ItemAmount     int
	CurrencyID     string
	CurrencyAmount int
}

// Event is a single structured entry produced by the log collaborator.
type Event struct {
	Kind     EventKind
	CharName string
	Message  string
	Buy      *BuyOrder
	At       time.Time
}
