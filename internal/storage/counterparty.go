package storage

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/arvx/poeflip/internal/models"
)

// ErrStoreInconsistency marks a row that should exist but does not
// (e.g. missing right after insert). Callers abandon the current
// counterparty and return to a safe state.
var ErrStoreInconsistency = errors.New("counterparty store inconsistency")

const (
	initialPriority   = 10
	priorityCap       = 15
	priorityIncrement = 2
)

// GetCounterparty returns the row for an account name, or nil when
// the account is unknown.
func (s *Store) GetCounterparty(accountName string) (*models.Counterparty, error) {
	var cp models.Counterparty
	err := s.db.Where("account_name = ?", accountName).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// UpsertFromCandidate updates the mutable fields of an existing row or
// inserts a new one with last_contact set to now. Returns the stored
// row; a row missing after its own insert is ErrStoreInconsistency.
func (s *Store) UpsertFromCandidate(c models.Candidate, category string) (*models.Counterparty, error) {
	existing, err := s.GetCounterparty(c.AccountName)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		updates := map[string]any{
			"last_char_name": c.LastCharName,
			"category":       category,
			"item_id":        c.ItemID,
			"item_name":      c.ItemName,
			"price":          c.BuyPrice,
			"stock":          c.Stock,
			"currency":       c.BuyCurrency,
		}
		if err := s.db.Model(&models.Counterparty{}).
			Where("account_name = ?", c.AccountName).
			Updates(updates).Error; err != nil {
			return nil, err
		}
		return s.GetCounterparty(c.AccountName)
	}

	cp := models.Counterparty{
		AccountName:  c.AccountName,
		LastCharName: c.LastCharName,
		Category:     category,
		ItemID:       c.ItemID,
		ItemName:     c.ItemName,
		Price:        c.BuyPrice,
		Stock:        c.Stock,
		Currency:     c.BuyCurrency,
		LastContact:  time.Now(),
		Priority:     initialPriority,
	}
	if err := s.db.Create(&cp).Error; err != nil {
		return nil, err
	}

	stored, err := s.GetCounterparty(c.AccountName)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: %s missing after insert", ErrStoreInconsistency, c.AccountName)
	}
	return stored, nil
}

// TouchContact persists the last-contact timestamp after a whisper
// was actually delivered.
func (s *Store) TouchContact(accountName string, at time.Time) error {
	return s.db.Model(&models.Counterparty{}).
		Where("account_name = ?", accountName).
		Update("last_contact", at).Error
}

// BumpPriority rewards a successful trade: priority grows by 2 and the
// trade count increments, both only while priority is below 15. A
// capped counterparty keeps its final trade count. Runs in a
// transaction to avoid lost updates under concurrent workers.
func (s *Store) BumpPriority(accountName string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var cp models.Counterparty
		if err := tx.Where("account_name = ?", accountName).First(&cp).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrStoreInconsistency, accountName)
			}
			return err
		}
		if cp.Priority < priorityCap {
			cp.Priority += priorityIncrement
			cp.TradeCount++
		}
		return tx.Model(&models.Counterparty{}).
			Where("account_name = ?", accountName).
			Updates(map[string]any{
				"priority":    cp.Priority,
				"trade_count": cp.TradeCount,
			}).Error
	})
}

// LatestCounterparties returns the n most recently contacted rows,
// newest first. Used by the buyer's identity deduction windows.
func (s *Store) LatestCounterparties(n int) ([]models.Counterparty, error) {
	var rows []models.Counterparty
	err := s.db.Order("last_contact DESC").Limit(n).Find(&rows).Error
	return rows, err
}

// defaultIgnoredUsers are seeded on every start; entries are never
// auto-removed.
var defaultIgnoredUsers = []string{
	"tft-trading",
	"exile-helper",
}

// SeedIgnoredUsers inserts the default ignored accounts plus any new
// names from the external file, then returns the full lowercase set.
func (s *Store) SeedIgnoredUsers(path string) (map[string]struct{}, error) {
	names := append([]string{}, defaultIgnoredUsers...)

	file, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				names = append(names, line)
			}
		}
		file.Close()
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	for _, name := range names {
		row := models.IgnoredUser{AccountName: strings.ToLower(name)}
		if err := s.db.Where(&row).FirstOrCreate(&row).Error; err != nil {
			return nil, err
		}
	}

	var rows []models.IgnoredUser
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		set[row.AccountName] = struct{}{}
	}
	return set, nil
}
