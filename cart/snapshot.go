package cart

import (
	"errors"

	"github.com/goccy/go-json"

	"craftshop/storefront/kvstore"
	"craftshop/storefront/models"
)

// StorageKey is where the cart snapshot lives in the durable store.
const StorageKey = "cart-storage"

// Snapshot is the persisted form of the cart.
type Snapshot struct {
	Items  []models.CartLineItem `json:"items"`
	IsOpen bool                  `json:"isOpen"`
}

// Snapshot returns the current persisted-form state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Items: e.itemsLocked(), IsOpen: e.open}
}

func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	items := e.items
	if items == nil {
		items = []models.CartLineItem{}
	}
	data, err := json.Marshal(Snapshot{Items: items, IsOpen: e.open})
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to encode cart snapshot")
		return
	}
	if err := e.store.Set(StorageKey, data); err != nil {
		e.logger.Error().Err(err).Msg("failed to persist cart snapshot")
	}
}

func (e *Engine) restore() {
	if e.store == nil {
		return
	}
	data, err := e.store.Get(StorageKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to read cart snapshot, starting empty")
		return
	}

	snap, migrated, err := DecodeSnapshot(data, e.newID)
	if err != nil {
		e.logger.Warn().Err(err).Msg("discarding unreadable cart snapshot")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = snap.Items
	e.open = snap.IsOpen
	if migrated {
		e.logger.Info().Int("items", len(e.items)).Msg("migrated legacy cart snapshot")
		e.persistLocked()
	}
}

// DecodeSnapshot parses a persisted snapshot and repairs it: lines without an
// id, or whose id repeats an earlier line, get a fresh id from newID; lines
// without a product or with a non-positive quantity are dropped. migrated
// reports whether anything was repaired.
func DecodeSnapshot(data []byte, newID func() string) (snap Snapshot, migrated bool, err error) {
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, err
	}

	seen := make(map[string]struct{}, len(snap.Items))
	kept := snap.Items[:0]
	for _, it := range snap.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			migrated = true
			continue
		}
		if _, dup := seen[it.ID]; it.ID == "" || dup {
			it.ID = newID()
			migrated = true
		}
		seen[it.ID] = struct{}{}
		kept = append(kept, it)
	}
	snap.Items = kept
	return snap, migrated, nil
}
