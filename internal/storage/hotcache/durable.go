package hotcache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/timshannon/badgerhold/v4"
	"golang.org/x/sync/singleflight"

	"github.com/kdalton/tradesim/internal/common"
)

// durableRecord is the BadgerHold-persisted cache row, keyed on Key so the
// hot tier survives a process restart.
type durableRecord struct {
	Key     string `badgerhold:"key"`
	Value   []byte
	Expires time.Time
}

// DurableCache is a BadgerHold-backed HotCache, for deployments that want
// the hot tier warm across restarts instead of cold after every deploy.
type DurableCache struct {
	db     *badgerhold.Store
	clock  common.Clock
	group  singleflight.Group
	logger *common.Logger
}

// NewDurableCache opens (or creates) a BadgerHold database at path.
func NewDurableCache(logger *common.Logger, path string, clock common.Clock) (*DurableCache, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("hotcache: create directory %s: %w", path, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("hotcache: open badger database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("durable hot cache opened")

	return &DurableCache{db: db, clock: clock, logger: logger}, nil
}

// Get returns the cached value for key if present and not expired.
func (c *DurableCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	var rec durableRecord
	err := c.db.Get(key, &rec)
	if err == badgerhold.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hotcache: get %s: %w", key, err)
	}
	if c.clock.Now().After(rec.Expires) {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Set stores value under key with the given TTL, replacing any prior value.
func (c *DurableCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	rec := durableRecord{Key: key, Value: value, Expires: c.clock.Now().Add(ttl)}
	if err := c.db.Upsert(key, rec); err != nil {
		return fmt.Errorf("hotcache: upsert %s: %w", key, err)
	}
	return nil
}

// Delete removes key from the cache.
func (c *DurableCache) Delete(_ context.Context, key string) error {
	err := c.db.Delete(key, &durableRecord{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("hotcache: delete %s: %w", key, err)
	}
	return nil
}

// Coalesce ensures at most one concurrent fn execution per key within this
// process; other callers await and share the result.
func (c *DurableCache) Coalesce(_ context.Context, key string, fn func() ([]byte, error)) ([]byte, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]byte), nil
}

// Close closes the underlying BadgerHold database.
func (c *DurableCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
