package lending

import (
	"errors"
	"reflect"
	"testing"

	"lendpool/storage"
)

func TestRegistryPersistsAcrossReload(t *testing.T) {
	db := storage.NewMemDB()
	registry, err := NewRegistry(db)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := registry.SetAllowedAsset("usdx", "USDX-USD"); err != nil {
		t.Fatalf("set asset: %v", err)
	}
	if err := registry.SetAllowedAsset("WETH", "WETH-USD"); err != nil {
		t.Fatalf("set asset: %v", err)
	}

	reloaded, err := NewRegistry(db)
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	if !reloaded.IsAllowed("USDX") {
		t.Fatalf("USDX lost on reload")
	}
	feed, ok := reloaded.PriceFeed("weth")
	if !ok || feed != "WETH-USD" {
		t.Fatalf("weth feed = %q, %v", feed, ok)
	}
	want := []string{"USDX", "WETH"}
	if got := reloaded.ListAllowed(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ListAllowed = %v, want %v", got, want)
	}
}

func TestRegistryRejectsEmptyInputs(t *testing.T) {
	registry, err := NewRegistry(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := registry.SetAllowedAsset("  ", "FEED"); !errors.Is(err, ErrAssetNotAllowed) {
		t.Fatalf("expected ErrAssetNotAllowed for blank symbol, got %v", err)
	}
	if err := registry.SetAllowedAsset("AAA", ""); !errors.Is(err, errFeedRequired) {
		t.Fatalf("expected errFeedRequired, got %v", err)
	}
	if registry.IsAllowed("AAA") {
		t.Fatalf("asset registered despite rejection")
	}
}

func TestRegistryRebindsFeed(t *testing.T) {
	registry, err := NewRegistry(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := registry.SetAllowedAsset("AAA", "OLD-FEED"); err != nil {
		t.Fatalf("set asset: %v", err)
	}
	if err := registry.SetAllowedAsset("AAA", "NEW-FEED"); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	feed, _ := registry.PriceFeed("AAA")
	if feed != "NEW-FEED" {
		t.Fatalf("feed = %q, want NEW-FEED", feed)
	}
	if got := registry.ListAllowed(); len(got) != 1 {
		t.Fatalf("duplicate entry after rebind: %v", got)
	}
}

func TestRegistryEmitsAssetAllowed(t *testing.T) {
	registry, err := NewRegistry(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	emitter := &captureEmitter{}
	registry.SetEmitter(emitter)
	if err := registry.SetAllowedAsset("AAA", "AAA-USD"); err != nil {
		t.Fatalf("set asset: %v", err)
	}
	if len(emitter.emitted) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.emitted))
	}
}
