// Package tracker keeps per-region request counters for lightweight
// analytics. Counts live in a single JSON file next to the statistics
// snapshots; recording must never break a price request, so every failure
// is logged and swallowed.
package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parkes-group/octopus/internal/pkg/store"
)

const countsFilename = "region_request_counts.json"

// RegionCount is one region's usage record.
type RegionCount struct {
	Count         int        `json:"count"`
	LastRequested *time.Time `json:"last_requested"`
}

// Tracker records how often each region's prices are requested.
type Tracker struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// New creates a tracker storing its counts under statsDir.
func New(statsDir string) *Tracker {
	return &Tracker{
		path:   filepath.Join(statsDir, countsFilename),
		logger: zap.L(),
		now:    time.Now,
	}
}

// Record increments the counter for a region. Region codes are a single
// uppercase letter; anything else is ignored. Returns whether the request
// was recorded.
func (t *Tracker) Record(regionCode string) bool {
	if len(regionCode) != 1 || regionCode[0] < 'A' || regionCode[0] > 'Z' {
		t.logger.Warn("invalid region code for request tracking", zap.String("region", regionCode))
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	counts := t.load()
	entry := counts[regionCode]
	entry.Count++
	now := t.now().UTC()
	entry.LastRequested = &now
	counts[regionCode] = entry

	if err := store.WriteJSONAtomic(t.path, counts); err != nil {
		t.logger.Error("failed to write region request counts", zap.Error(err))
		return false
	}
	return true
}

// Counts returns a copy of the current per-region counters.
func (t *Tracker) Counts() map[string]RegionCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load()
}

// Top returns up to n region codes ordered by request count, most
// requested first. Ties break alphabetically.
func (t *Tracker) Top(n int) []string {
	counts := t.Counts()
	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, k int) bool {
		if counts[codes[i]].Count != counts[codes[k]].Count {
			return counts[codes[i]].Count > counts[codes[k]].Count
		}
		return codes[i] < codes[k]
	})
	if n < len(codes) {
		codes = codes[:n]
	}
	return codes
}

// load reads the counts file, treating a missing or corrupt file as empty.
// Callers hold t.mu.
func (t *Tracker) load() map[string]RegionCount {
	counts := map[string]RegionCount{}
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Error("failed to read region request counts", zap.Error(err))
		}
		return counts
	}
	if err := json.Unmarshal(data, &counts); err != nil {
		t.logger.Warn("region counts file corrupted, resetting", zap.String("path", t.path), zap.Error(err))
		return map[string]RegionCount{}
	}
	return counts
}
