package estimatecache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/memobase/pare/pkg/pare/config"
	"github.com/memobase/pare/pkg/pare/estimate"
	"github.com/memobase/pare/pkg/pare/pformat"
	"github.com/memobase/pare/pkg/pare/preset"
)

func hotOnlyConfig() config.CacheConfig {
	return config.CacheConfig{
		Enabled:       false,
		HotEntries:    16,
		TTL:           config.Duration{Duration: time.Hour},
		LookupTimeout: config.Duration{Duration: 50 * time.Millisecond},
	}
}

func TestKeyIsStableAndInputSensitive(t *testing.T) {
	cfg := preset.Default()
	k1, err := Key(pformat.PNG, cfg, []byte("hello"))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	k2, err := Key(pformat.PNG, cfg, []byte("hello"))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("same inputs should produce the same key: %q vs %q", k1, k2)
	}

	k3, err := Key(pformat.PNG, cfg, []byte("world"))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if k1 == k3 {
		t.Fatal("different input bytes should produce different keys")
	}

	otherCfg, err := preset.New(40, true, false, true, nil)
	if err != nil {
		t.Fatalf("preset.New: %v", err)
	}
	k4, err := Key(pformat.PNG, otherCfg, []byte("hello"))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if k1 == k4 {
		t.Fatal("different config should produce a different key")
	}
}

func TestHotTierGetSetRoundTrip(t *testing.T) {
	c := Open(hotOnlyConfig())
	defer c.Close()

	key, err := Key(pformat.JPEG, preset.Default(), []byte("payload"))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}

	if _, ok := c.Get(context.Background(), key); ok {
		t.Fatal("expected a miss before any Set")
	}

	resp := estimate.Response{
		OriginalSize:           1000,
		OriginalFormat:         pformat.JPEG,
		EstimatedOptimizedSize: 600,
		Method:                 "jpegli",
	}
	c.Set(key, resp)

	got, ok := c.Get(context.Background(), key)
	if !ok {
		t.Fatal("expected a hit after Set")
	}
	if got.EstimatedOptimizedSize != 600 || got.Method != "jpegli" {
		t.Fatalf("round-tripped response mismatch: %+v", got)
	}
}

func TestColdTierRoundTripsThroughDisk(t *testing.T) {
	dir, err := os.MkdirTemp("", "estimatecache-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := hotOnlyConfig()
	cfg.Enabled = true
	cfg.Dir = dir

	c := Open(cfg)
	defer c.Close()
	if c.cold == nil {
		t.Skip("cold tier unavailable in this environment")
	}

	key, err := Key(pformat.PNG, preset.Default(), []byte("disk payload"))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	resp := estimate.Response{OriginalSize: 2000, EstimatedOptimizedSize: 1200, Method: "oxipng"}
	c.Set(key, resp)

	// Force a hot-tier miss to exercise the cold-tier lookup path.
	c.hot.Remove(key)

	got, ok := c.Get(context.Background(), key)
	if !ok {
		t.Fatal("expected a cold-tier hit")
	}
	if got.EstimatedOptimizedSize != 1200 {
		t.Fatalf("cold-tier round trip mismatch: %+v", got)
	}
}

func TestGetMissOnUnknownKeyNeverErrors(t *testing.T) {
	c := Open(hotOnlyConfig())
	defer c.Close()
	if _, ok := c.Get(context.Background(), "nonexistent-key"); ok {
		t.Fatal("expected a miss for an unknown key")
	}
}
