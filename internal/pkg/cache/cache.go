// Package cache holds a locally cached, adaptively expiring copy of fetched
// tariff data: one persistent JSON file per product and region, updated in
// place when it expires.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parkes-group/octopus/internal/pkg/model"
	"github.com/parkes-group/octopus/internal/pkg/store"
)

type envelope struct {
	Prices    model.PriceSlots `json:"prices"`
	FetchedAt time.Time        `json:"fetched_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

type Cache struct {
	dir         string
	fallbackTTL time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a price cache rooted at dir. fallbackTTL is the short expiry
// applied when DecideExpiry cannot detect next-day publication.
func New(dir string, fallbackTTL time.Duration) *Cache {
	return &Cache{
		dir:         dir,
		fallbackTTL: fallbackTTL,
		logger:      zap.L(),
		now:         time.Now,
	}
}

func (c *Cache) file(productCode, regionCode string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(productCode)
	return filepath.Join(c.dir, safe+"_"+regionCode+".json")
}

// Get returns the cached prices for a product and region, or nil on a miss.
// Expired and corrupt files are misses; corrupt files are removed so the
// next Put can recreate them.
func (c *Cache) Get(productCode, regionCode string) model.PriceSlots {
	path := c.file(productCode, regionCode)
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Debug("cache miss", zap.String("product", productCode), zap.String("region", regionCode))
		return nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Error("corrupt cache file, removing", zap.String("path", path), zap.Error(err))
		if err := os.Remove(path); err != nil {
			c.logger.Error("failed to remove corrupt cache file", zap.String("path", path), zap.Error(err))
		}
		return nil
	}

	if !c.now().Before(env.ExpiresAt) {
		c.logger.Debug("cache expired",
			zap.String("product", productCode),
			zap.String("region", regionCode),
			zap.Time("expired_at", env.ExpiresAt))
		return nil
	}
	return env.Prices
}

// Put caches prices for a product and region. The expiry comes from
// DecideExpiry over the series edges when next-day publication is detected,
// otherwise now + the fallback TTL. Writes are atomic.
func (c *Cache) Put(productCode, regionCode string, prices model.PriceSlots) error {
	now := c.now()
	expiresAt := now.Add(c.fallbackTTL)
	if len(prices) > 0 {
		first, last := prices[0], prices[len(prices)-1]
		if adaptive, ok := DecideExpiry(first, last, now); ok {
			expiresAt = adaptive
		}
	}
	return c.PutWithExpiry(productCode, regionCode, prices, expiresAt)
}

// PutWithExpiry caches prices with an explicit expiry instant.
func (c *Cache) PutWithExpiry(productCode, regionCode string, prices model.PriceSlots, expiresAt time.Time) error {
	env := envelope{
		Prices:    prices,
		FetchedAt: c.now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}
	path := c.file(productCode, regionCode)
	if err := store.WriteJSONAtomic(path, env); err != nil {
		c.logger.Error("failed to write cache file", zap.String("path", path), zap.Error(err))
		return err
	}
	c.logger.Info("cache refreshed",
		zap.String("product", productCode),
		zap.String("region", regionCode),
		zap.Int("slots", len(prices)),
		zap.Time("expires_at", env.ExpiresAt))
	return nil
}

// Legacy per-day cache files carried a date suffix before .json; the current
// per-region files are updated in place and never accumulate.
var legacyFilePattern = regexp.MustCompile(`_\d{4}-\d{2}-\d{2}\.json$`)

// ClearLegacy removes old per-day cache files left behind by earlier
// versions of the cache layout.
func (c *Cache) ClearLegacy() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !legacyFilePattern.MatchString(entry.Name()) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			c.logger.Error("failed to delete legacy cache file", zap.String("path", path), zap.Error(err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		c.logger.Info("cleaned up legacy per-day cache files", zap.Int("deleted", deleted))
	}
}
