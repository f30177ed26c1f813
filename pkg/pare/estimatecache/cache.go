// Package estimatecache implements the two-tier estimate cache (§4.J):
// an in-process LRU hot tier backed by an optional on-disk cold tier,
// keyed by a SHA-256 hash of (format, config, input bytes). Lookups
// never block past a configurable timeout and a miss or error of any
// kind always falls through to a fresh estimate — the cache is purely
// an optimization, never a correctness dependency.
//
// Grounded on je4-indexer's actionNSRL.go/nsrl2badger (dgraph-io/badger
// as an on-disk key/value lookup store, repurposed here from a
// known-hash allowlist to an estimate memo) and actionChecksum.go
// (je4/utils/v2/pkg/checksum for content hashing).
package estimatecache

import (
	"context"
	"encoding/json"
	"fmt"

	"emperror.dev/errors"
	"github.com/bluele/gcache"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/je4/utils/v2/pkg/checksum"

	"github.com/memobase/pare/pkg/pare/config"
	"github.com/memobase/pare/pkg/pare/estimate"
	"github.com/memobase/pare/pkg/pare/pformat"
	"github.com/memobase/pare/pkg/pare/preset"
)

// Cache is the two-tier estimate-result cache. A Cache built by Open
// without a cold tier still serves as a hot-tier-only cache; Close is
// always safe to call. Use Open to build one: a zero-value Cache has no
// hot tier.
type Cache struct {
	hot           gcache.Cache
	cold          *badger.DB
	ttl           config.Duration
	lookupTimeout config.Duration
}

// Open builds a Cache from the service's cache configuration. The
// cold tier is opened only when cfg.Enabled and cfg.Dir is non-empty;
// a failure to open the cold tier degrades to hot-tier-only rather
// than failing startup, matching §4.J's "never a correctness
// dependency" posture.
func Open(cfg config.CacheConfig) *Cache {
	c := &Cache{
		hot:           gcache.New(cfg.HotEntries).LRU().Build(),
		ttl:           cfg.TTL,
		lookupTimeout: cfg.LookupTimeout,
	}
	if !cfg.Enabled || cfg.Dir == "" {
		return c
	}
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return c
	}
	c.cold = db
	return c
}

// Close releases the cold-tier handle, if one was opened.
func (c *Cache) Close() error {
	if c.cold == nil {
		return nil
	}
	return c.cold.Close()
}

// Key derives the SHA-256 cache key for (tag, cfg, data), per §4.J.
func Key(tag pformat.Tag, cfg preset.Config, data []byte) (string, error) {
	cw, err := checksum.NewChecksumWriter([]checksum.DigestAlgorithm{checksum.DigestSHA256})
	if err != nil {
		return "", errors.Wrap(err, "cannot create checksum writer")
	}
	fmt.Fprintf(cw, "%s|%d|%t|%t|%t|", tag, cfg.Quality, cfg.StripMetadata, cfg.ProgressiveJPEG, cfg.PNGLossy)
	if cfg.MaxReduction != nil {
		fmt.Fprintf(cw, "%v|", *cfg.MaxReduction)
	}
	if _, err := cw.Write(data); err != nil {
		return "", errors.Wrap(err, "cannot hash cache key input")
	}
	cw.Close()
	sums, err := cw.GetChecksums()
	if err != nil {
		return "", errors.Wrap(err, "cannot compute cache key checksum")
	}
	return sums[checksum.DigestSHA256], nil
}

// Get checks the hot tier, then the cold tier bounded by
// lookupTimeout. Any miss or error of either tier is reported as
// (zero, false) rather than propagated — callers always fall through
// to a fresh estimate.
func (c *Cache) Get(ctx context.Context, key string) (estimate.Response, bool) {
	if v, err := c.hot.Get(key); err == nil {
		if resp, ok := v.(estimate.Response); ok {
			return resp, true
		}
	}
	if c.cold == nil {
		return estimate.Response{}, false
	}

	type lookup struct {
		resp estimate.Response
		ok   bool
	}
	resultCh := make(chan lookup, 1)
	go func() {
		resp, ok := c.coldGet(key)
		resultCh <- lookup{resp: resp, ok: ok}
	}()

	lctx, cancel := context.WithTimeout(ctx, c.lookupTimeout.Duration)
	defer cancel()

	select {
	case r := <-resultCh:
		if r.ok {
			_ = c.hot.Set(key, r.resp)
		}
		return r.resp, r.ok
	case <-lctx.Done():
		return estimate.Response{}, false
	}
}

func (c *Cache) coldGet(key string) (estimate.Response, bool) {
	var resp estimate.Response
	err := c.cold.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &resp)
		})
	})
	if err != nil {
		return estimate.Response{}, false
	}
	return resp, true
}

// Set stores resp in both tiers under key, carrying the configured
// TTL on the cold-tier entry via badger's native TTL support. Write
// failures are swallowed: a cache that fails to persist simply serves
// a miss next time, never failing the caller's request.
func (c *Cache) Set(key string, resp estimate.Response) {
	_ = c.hot.SetWithExpire(key, resp, c.ttl.Duration)

	if c.cold == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = c.cold.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data).WithTTL(c.ttl.Duration)
		return txn.SetEntry(entry)
	})
}
