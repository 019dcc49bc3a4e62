package lending

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"lendpool/core/events"
	"lendpool/storage"
)

var registryKey = []byte("lend/registry")

var errFeedRequired = errors.New("lending registry: price feed required")

// Registry maintains the set of assets accepted as collateral and the price
// feed each maps to. The mapping is persisted so a restart preserves the
// allowed set; writes are admin-only and flow through SetAllowedAsset.
type Registry struct {
	mu      sync.RWMutex
	db      storage.Database
	feeds   map[string]string
	emitter events.Emitter
}

// NewRegistry loads the persisted asset set from the database.
func NewRegistry(db storage.Database) (*Registry, error) {
	reg := &Registry{db: db, feeds: make(map[string]string), emitter: events.NoopEmitter{}}
	raw, err := db.Get(registryKey)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		return reg, nil
	case err != nil:
		return nil, fmt.Errorf("lending registry: load: %w", err)
	}
	if err := json.Unmarshal(raw, &reg.feeds); err != nil {
		return nil, fmt.Errorf("lending registry: decode: %w", err)
	}
	return reg, nil
}

// SetEmitter wires the registry to the event stream.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if r == nil || emitter == nil {
		return
	}
	r.mu.Lock()
	r.emitter = emitter
	r.mu.Unlock()
}

// SetAllowedAsset binds an asset symbol to a price feed identifier, making the
// asset eligible for deposit, borrow, and liquidation reward.
func (r *Registry) SetAllowedAsset(asset, priceFeed string) error {
	symbol := NormalizeAsset(asset)
	if symbol == "" {
		return ErrAssetNotAllowed
	}
	if priceFeed == "" {
		return errFeedRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, existed := r.feeds[symbol]
	r.feeds[symbol] = priceFeed
	if err := r.persistLocked(); err != nil {
		if existed {
			r.feeds[symbol] = previous
		} else {
			delete(r.feeds, symbol)
		}
		return err
	}
	r.emitter.Emit(events.LendingAssetAllowed{Asset: symbol, PriceFeed: priceFeed})
	return nil
}

func (r *Registry) persistLocked() error {
	raw, err := json.Marshal(r.feeds)
	if err != nil {
		return fmt.Errorf("lending registry: encode: %w", err)
	}
	if err := r.db.Put(registryKey, raw); err != nil {
		return fmt.Errorf("lending registry: persist: %w", err)
	}
	return nil
}

// IsAllowed reports whether the asset has a registered price feed.
func (r *Registry) IsAllowed(asset string) bool {
	_, ok := r.PriceFeed(asset)
	return ok
}

// PriceFeed returns the feed identifier registered for the asset.
func (r *Registry) PriceFeed(asset string) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	feed, ok := r.feeds[NormalizeAsset(asset)]
	return feed, ok
}

// ListAllowed returns the registered asset symbols in sorted order.
func (r *Registry) ListAllowed() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	assets := make([]string, 0, len(r.feeds))
	for symbol := range r.feeds {
		assets = append(assets, symbol)
	}
	sort.Strings(assets)
	return assets
}
