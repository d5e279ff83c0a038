// Package configs provides application configuration.
// Infrastructure settings come from environment variables; the tradable
// item list lives in a separate file that is re-read every poll cycle.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/arvx/poeflip/internal/models"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// League is the active trade league name used in API URLs.
	League string

	// TradeAPIURL is the base URL of the listing API.
	TradeAPIURL string

	// LiveSearchWSURL is the websocket endpoint of the listing API's
	// live search channel. Empty disables live search.
	LiveSearchWSURL string

	// PriceAPIURL is the base URL of the public price index.
	PriceAPIURL string

	// DBPath is the sqlite database file for counterparties and ignored users.
	DBPath string

	// TradeSummaryPath is the JSON ledger file.
	TradeSummaryPath string

	// TradeItemsFile is the item spec file (YAML/JSON), re-read each cycle.
	TradeItemsFile string

	// ProxyFile lists egress proxies, one "host:port[:user:pass]" per line.
	ProxyFile string

	// IgnoredUsersFile lists extra ignored account names, one per line.
	IgnoredUsersFile string

	// ThresholdsFile maps vision template ids to confidence thresholds.
	ThresholdsFile string

	// GameIOURL is the websocket address of the vision/input helper process.
	GameIOURL string

	// BulkTypes are the item categories traded through the exchange API.
	BulkTypes []string

	// MaxBulkPrice caps the total price of a single bulk contact.
	MaxBulkPrice float64

	// MaxStackSize caps the stock requested from one counterparty.
	MaxStackSize int

	// FillCurrencyStack is the inventory top-up target for the buyer.
	FillCurrencyStack int

	// NoSpamDelay is the per-counterparty re-contact window.
	NoSpamDelay time.Duration

	// PrioritySleepFactor divides counterparty priority into the
	// inter-candidate throttle (seconds = priority / factor).
	PrioritySleepFactor float64

	// DeductUserDelay bounds the zone-transition confirmation wait (ticks).
	DeductUserDelay int

	// TradeTimerLimit is the buyer session timer ceiling (ticks).
	TradeTimerLimit int

	// MainLoopDelay paces the state machine outer loops.
	MainLoopDelay time.Duration
}

// AppLoad loads configuration from the environment. A .env file is
// honored when present, matching local development setups.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // .env is optional

	return &AppConfig{
		League:              getEnv("TRADE_LEAGUE", "Standard"),
		TradeAPIURL:         getEnv("TRADE_API_URL", "https://www.pathofexile.com/api/trade"),
		LiveSearchWSURL:     getEnv("TRADE_LIVE_WS_URL", ""),
		PriceAPIURL:         getEnv("PRICE_API_URL", "https://poe.ninja/api/data"),
		DBPath:              getEnv("DB_PATH", "flipper.db"),
		TradeSummaryPath:    getEnv("TRADE_SUMMARY_PATH", "trade_summary.json"),
		TradeItemsFile:      getEnv("TRADE_ITEMS_FILE", "trade_items.yaml"),
		ProxyFile:           getEnv("PROXY_FILE", "proxies.txt"),
		IgnoredUsersFile:    getEnv("IGNORED_USERS_FILE", "ignored_users.txt"),
		ThresholdsFile:      getEnv("THRESHOLDS_FILE", "thresholds.yaml"),
		GameIOURL:           getEnv("GAMEIO_URL", "ws://127.0.0.1:9178/io"),
		BulkTypes:           getEnvList("TRADE_BULK_TYPES", "scarab,fossil,currency"),
		MaxBulkPrice:        getEnvFloat("MAX_BULK_PRICE", 120),
		MaxStackSize:        getEnvInt("MAX_STACK_SIZE", 40),
		FillCurrencyStack:   getEnvInt("FILL_CURRENCY_STACK", 40),
		NoSpamDelay:         time.Duration(getEnvInt("NO_SPAM_DELAY_SECONDS", 60)) * time.Second,
		PrioritySleepFactor: getEnvFloat("PRIORITY_SLEEP_FACTOR", 1.5),
		DeductUserDelay:     getEnvInt("DEDUCT_USER_DELAY", 8),
		TradeTimerLimit:     getEnvInt("TRADE_TIMER_LIMIT", 150),
		MainLoopDelay:       time.Duration(getEnvInt("MAIN_LOOP_DELAY_MS", 500)) * time.Millisecond,
	}
}

// LoadItemSpecs reads the tradable item list. The file holds a top-level
// "items" key so it can be edited while the trader is running; the
// trader re-reads it at the start of every poll cycle.
func LoadItemSpecs(path string) ([]models.ItemSpec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read item specs: %w", err)
	}

	var out struct {
		Items []models.ItemSpec `mapstructure:"items"`
	}
	if err := v.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("decode item specs: %w", err)
	}
	return out.Items, nil
}

// LoadThresholds reads the per-template vision confidence map. Missing
// file is not an error; callers fall back to a default threshold.
func LoadThresholds(path string) (map[string]float64, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return map[string]float64{}, nil
		}
		return nil, fmt.Errorf("read thresholds: %w", err)
	}

	thresholds := make(map[string]float64)
	for key := range v.AllSettings() {
		thresholds[key] = v.GetFloat64(key)
	}
	return thresholds, nil
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList returns a comma-separated environment variable as a slice.
func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
