package ytd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/parkes-group/octopus/internal/pkg/model"
	"github.com/parkes-group/octopus/internal/pkg/stats"
	"github.com/parkes-group/octopus/internal/pkg/store"
	"github.com/parkes-group/octopus/internal/pkg/uktime"
)

type mockFetcher struct {
	GetPricesFunc      func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error)
	GetPricesRangeFunc func(ctx context.Context, productCode, regionCode string, from, to time.Time, pageSize int) (model.PriceSlots, error)
}

func (m *mockFetcher) GetPrices(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
	return m.GetPricesFunc(ctx, productCode, regionCode)
}

func (m *mockFetcher) GetPricesRange(ctx context.Context, productCode, regionCode string, from, to time.Time, pageSize int) (model.PriceSlots, error) {
	return m.GetPricesRangeFunc(ctx, productCode, regionCode, from, to, pageSize)
}

type mockStore struct {
	mu sync.Mutex

	raw        map[string]model.PriceSlots
	savedStats []model.AnnualStats

	loadErr error
	saveErr error
}

func newMockStore() *mockStore {
	return &mockStore{raw: map[string]model.PriceSlots{}}
}

func (m *mockStore) LoadRawPrices(region string, year int) (model.PriceSlots, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	prices, ok := m.raw[region]
	if !ok {
		return nil, store.ErrNotFound
	}
	return prices, nil
}

func (m *mockStore) SaveRawPrices(region string, year int, prices model.PriceSlots) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.raw[region] = prices
	return nil
}

func (m *mockStore) SaveStats(s model.AnnualStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedStats = append(m.savedStats, s)
	return nil
}

func (m *mockStore) statsFor(region string) *model.AnnualStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.savedStats {
		if m.savedStats[i].RegionCode == region {
			return &m.savedStats[i]
		}
	}
	return nil
}

type mockCache struct {
	mu   sync.Mutex
	puts map[string]int
}

func (m *mockCache) Put(productCode, regionCode string, prices model.PriceSlots) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.puts == nil {
		m.puts = map[string]int{}
	}
	m.puts[regionCode]++
	return nil
}

func testAssumptions() model.Assumptions {
	return model.Assumptions{
		BlockDurationHours:        3.5,
		DailyKwh:                  11.0,
		CheapestBlockUsagePercent: 35.0,
		PriceCapPPerKwh:           28.6,
		BatteryChargePowerKw:      3.5,
	}
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 10, 18, 0, 0, 0, uktime.Location)
}

func TestJobRun(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches, stores and caches every region", func(t *testing.T) {
		store := newMockStore()
		cache := &mockCache{}
		fetched := contiguousSlots(time.Date(2025, 6, 9, 23, 0, 0, 0, time.UTC), 96, 15)

		fetcher := &mockFetcher{
			GetPricesFunc: func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
				return fetched[:48], nil
			},
			GetPricesRangeFunc: func(ctx context.Context, productCode, regionCode string, from, to time.Time, pageSize int) (model.PriceSlots, error) {
				return fetched, nil
			},
		}

		job := NewJob("AGILE-24-10-01", []string{"A", "B", "C"}, testAssumptions(), fetcher, store, cache)
		job.logger = zaptest.NewLogger(t)
		job.now = fixedNow

		require.NoError(t, job.Run(ctx))

		for _, region := range []string{"A", "B", "C"} {
			assert.Len(t, store.raw[region], 96, "region %s raw prices", region)
			require.NotNil(t, store.statsFor(region))
			assert.Equal(t, 1, cache.puts[region])
		}

		national := store.statsFor(stats.NationalRegionCode)
		require.NotNil(t, national)
		assert.Equal(t, stats.MethodologyUnweightedMean, national.Methodology)
		assert.Equal(t, []string{"A", "B", "C"}, national.SourceRegions)
	})

	t.Run("one failing region does not abort the others", func(t *testing.T) {
		store := newMockStore()
		fetched := contiguousSlots(time.Date(2025, 6, 9, 23, 0, 0, 0, time.UTC), 96, 15)

		fetcher := &mockFetcher{
			GetPricesFunc: func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
				return fetched[:48], nil
			},
			GetPricesRangeFunc: func(ctx context.Context, productCode, regionCode string, from, to time.Time, pageSize int) (model.PriceSlots, error) {
				if regionCode == "B" {
					return nil, errors.New("upstream 502")
				}
				return fetched, nil
			},
		}

		job := NewJob("AGILE-24-10-01", []string{"A", "B", "C"}, testAssumptions(), fetcher, store, &mockCache{})
		job.logger = zaptest.NewLogger(t)
		job.now = fixedNow

		require.NoError(t, job.Run(ctx))

		assert.NotNil(t, store.statsFor("A"))
		assert.Nil(t, store.statsFor("B"))
		assert.NotNil(t, store.statsFor("C"))

		national := store.statsFor(stats.NationalRegionCode)
		require.NotNil(t, national)
		assert.Equal(t, []string{"A", "C"}, national.SourceRegions)
	})

	t.Run("skips fetch when data already covers tomorrow", func(t *testing.T) {
		store := newMockStore()
		// Through end of UK June 11.
		store.raw["A"] = contiguousSlots(time.Date(2025, 6, 9, 23, 0, 0, 0, time.UTC), 96, 15)

		var rangeCalls int
		fetcher := &mockFetcher{
			GetPricesFunc: func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
				return store.raw["A"][:48], nil
			},
			GetPricesRangeFunc: func(ctx context.Context, productCode, regionCode string, from, to time.Time, pageSize int) (model.PriceSlots, error) {
				rangeCalls++
				return nil, nil
			},
		}

		job := NewJob("AGILE-24-10-01", []string{"A"}, testAssumptions(), fetcher, store, &mockCache{})
		job.logger = zaptest.NewLogger(t)
		job.now = fixedNow

		require.NoError(t, job.Run(ctx))
		assert.Zero(t, rangeCalls)
		assert.NotNil(t, store.statsFor("A"))
	})

	t.Run("unreadable year file fails the region and is never overwritten", func(t *testing.T) {
		store := newMockStore()
		store.loadErr = errors.New("decode raw/A_2025.json: unexpected end of JSON input")

		var rangeCalls int
		fetcher := &mockFetcher{
			GetPricesFunc: func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
				return nil, nil
			},
			GetPricesRangeFunc: func(ctx context.Context, productCode, regionCode string, from, to time.Time, pageSize int) (model.PriceSlots, error) {
				rangeCalls++
				return nil, nil
			},
		}

		job := NewJob("AGILE-24-10-01", []string{"A"}, testAssumptions(), fetcher, store, &mockCache{})
		job.logger = zaptest.NewLogger(t)
		job.now = fixedNow

		require.NoError(t, job.Run(ctx))

		assert.Zero(t, rangeCalls)
		assert.Empty(t, store.raw)
		assert.Nil(t, store.statsFor("A"))
		assert.Nil(t, store.statsFor(stats.NationalRegionCode))
	})

	t.Run("nil cache is tolerated", func(t *testing.T) {
		store := newMockStore()
		fetched := contiguousSlots(time.Date(2025, 6, 9, 23, 0, 0, 0, time.UTC), 96, 15)
		fetcher := &mockFetcher{
			GetPricesFunc: func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
				return fetched[:48], nil
			},
			GetPricesRangeFunc: func(ctx context.Context, productCode, regionCode string, from, to time.Time, pageSize int) (model.PriceSlots, error) {
				return fetched, nil
			},
		}

		job := NewJob("AGILE-24-10-01", []string{"A"}, testAssumptions(), fetcher, store, nil)
		job.logger = zaptest.NewLogger(t)
		job.now = fixedNow

		require.NoError(t, job.Run(ctx))
		assert.NotNil(t, store.statsFor("A"))
	})
}
