package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/parkes-group/octopus/internal/pkg/config"
	"github.com/parkes-group/octopus/internal/pkg/model"
	"github.com/parkes-group/octopus/internal/pkg/store"
	"github.com/parkes-group/octopus/internal/pkg/uktime"
)

type mockAPI struct {
	GetPricesFunc              func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error)
	GetAgileProductsFunc       func(ctx context.Context) ([]model.Product, error)
	GetRegionsFunc             func(ctx context.Context) ([]model.Region, error)
	LookupRegionByPostcodeFunc func(ctx context.Context, postcode string) ([]string, error)
}

func (m *mockAPI) GetPrices(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
	return m.GetPricesFunc(ctx, productCode, regionCode)
}

func (m *mockAPI) GetAgileProducts(ctx context.Context) ([]model.Product, error) {
	return m.GetAgileProductsFunc(ctx)
}

func (m *mockAPI) GetRegions(ctx context.Context) ([]model.Region, error) {
	return m.GetRegionsFunc(ctx)
}

func (m *mockAPI) LookupRegionByPostcode(ctx context.Context, postcode string) ([]string, error) {
	return m.LookupRegionByPostcodeFunc(ctx, postcode)
}

type mockCache struct {
	mu      sync.Mutex
	entries map[string]model.PriceSlots
}

func newMockCache() *mockCache {
	return &mockCache{entries: map[string]model.PriceSlots{}}
}

func (m *mockCache) Get(productCode, regionCode string) model.PriceSlots {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[productCode+"_"+regionCode]
}

func (m *mockCache) Put(productCode, regionCode string, prices model.PriceSlots) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[productCode+"_"+regionCode] = prices
	return nil
}

type mockStats struct {
	LoadStatsFunc func(region string, year int) (model.AnnualStats, error)
}

func (m *mockStats) LoadStats(region string, year int) (model.AnnualStats, error) {
	return m.LoadStatsFunc(region, year)
}

type mockTracker struct {
	mu       sync.Mutex
	recorded []string
}

func (m *mockTracker) Record(regionCode string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, regionCode)
	return true
}

func testConfig() *config.Config {
	return &config.Config{
		OctopusProductCode:        "AGILE-24-10-01",
		DefaultBlockDurationHours: 3.5,
	}
}

func testServer(t *testing.T, api *mockAPI, cache *mockCache, stats *mockStats, tracker *mockTracker) *Server {
	if cache == nil {
		cache = newMockCache()
	}
	if tracker == nil {
		tracker = &mockTracker{}
	}
	s := New(testConfig(), api, cache, stats, tracker)
	s.logger = zaptest.NewLogger(t)
	s.now = func() time.Time {
		return time.Date(2025, 6, 10, 12, 0, 0, 0, uktime.Location)
	}
	return s
}

// daySlots covers UK June 10 2025 with a clear cheap overnight dip.
func daySlots() model.PriceSlots {
	start := time.Date(2025, 6, 9, 23, 0, 0, 0, time.UTC)
	slots := make(model.PriceSlots, 0, 48)
	for i := 0; i < 48; i++ {
		price := 20.0
		if i >= 4 && i < 12 {
			price = 8.0
		}
		from := start.Add(time.Duration(i) * 30 * time.Minute)
		slots = append(slots, model.PriceSlot{ValueIncVat: price, ValidFrom: from, ValidTo: from.Add(30 * time.Minute)})
	}
	return slots
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetPrices(t *testing.T) {
	t.Run("fetches on cache miss and analyses per day", func(t *testing.T) {
		cache := newMockCache()
		tracker := &mockTracker{}
		var fetches int
		api := &mockAPI{
			GetPricesFunc: func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
				fetches++
				assert.Equal(t, "AGILE-24-10-01", productCode)
				assert.Equal(t, "C", regionCode)
				return daySlots(), nil
			},
		}
		s := testServer(t, api, cache, nil, tracker)

		rec := get(t, s, "/api/prices?region=C")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp pricesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "C", resp.Region)
		assert.Equal(t, 3.5, resp.DurationHours)
		require.Len(t, resp.Days, 1)

		day := resp.Days[0]
		assert.Equal(t, "2025-06-10", day.Date)
		assert.Equal(t, 48, day.SlotCount)
		require.NotNil(t, day.LowestSlot)
		assert.Equal(t, 8.0, day.LowestSlot.ValueIncVat)
		require.NotNil(t, day.CheapestBlock)
		assert.Equal(t, 8.0, day.CheapestBlock.AveragePrice)
		require.NotNil(t, day.DailyAverage)

		assert.Equal(t, 1, fetches)
		assert.NotNil(t, cache.Get("AGILE-24-10-01", "C"))
		assert.Equal(t, []string{"C"}, tracker.recorded)
	})

	t.Run("cache hit skips the upstream fetch", func(t *testing.T) {
		cache := newMockCache()
		require.NoError(t, cache.Put("AGILE-24-10-01", "C", daySlots()))

		api := &mockAPI{
			GetPricesFunc: func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
				t.Fatal("unexpected upstream fetch")
				return nil, nil
			},
		}
		s := testServer(t, api, cache, nil, nil)

		rec := get(t, s, "/api/prices?region=C")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing region is a bad request", func(t *testing.T) {
		s := testServer(t, &mockAPI{}, nil, nil, nil)
		assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/prices").Code)
	})

	t.Run("unknown region is a bad request", func(t *testing.T) {
		s := testServer(t, &mockAPI{}, nil, nil, nil)
		assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/prices?region=Z").Code)
	})

	t.Run("upstream failure is a bad gateway", func(t *testing.T) {
		api := &mockAPI{
			GetPricesFunc: func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
				return nil, errors.New("octopus down")
			},
		}
		s := testServer(t, api, nil, nil, nil)
		assert.Equal(t, http.StatusBadGateway, get(t, s, "/api/prices?region=C").Code)
	})

	t.Run("out of range duration falls back to default", func(t *testing.T) {
		api := &mockAPI{
			GetPricesFunc: func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
				return daySlots(), nil
			},
		}
		s := testServer(t, api, nil, nil, nil)

		rec := get(t, s, "/api/prices?region=C&duration=12")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp pricesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 3.5, resp.DurationHours)
	})

	t.Run("charging cost estimate never prices a block across midnight", func(t *testing.T) {
		// Two full UK days at 20p except a 1p dip in the four slots
		// straddling midnight. That dip is the cheapest contiguous run in
		// the whole series but no single day contains it; each day's
		// cheapest 2h block averages (20+20+1+1)/4 = 10.5p.
		start := time.Date(2025, 6, 9, 23, 0, 0, 0, time.UTC)
		slots := make(model.PriceSlots, 0, 96)
		for i := 0; i < 96; i++ {
			price := 20.0
			if i >= 46 && i < 50 {
				price = 1.0
			}
			from := start.Add(time.Duration(i) * 30 * time.Minute)
			slots = append(slots, model.PriceSlot{ValueIncVat: price, ValidFrom: from, ValidTo: from.Add(30 * time.Minute)})
		}

		api := &mockAPI{
			GetPricesFunc: func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
				return slots, nil
			},
		}
		s := testServer(t, api, nil, nil, nil)

		rec := get(t, s, "/api/prices?region=C&duration=2.0&capacity=40")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp pricesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Days, 2)
		for _, day := range resp.Days {
			require.NotNil(t, day.CheapestBlock)
			assert.Equal(t, 10.5, day.CheapestBlock.AveragePrice)
		}
		require.NotNil(t, resp.EstimatedCost)
		// 10.5p * 40 kWh = 4.20 GBP, not the 0.40 a cross-day window gives.
		assert.Equal(t, 4.2, *resp.EstimatedCost)
	})

	t.Run("capacity produces a charging cost estimate", func(t *testing.T) {
		api := &mockAPI{
			GetPricesFunc: func(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
				return daySlots(), nil
			},
		}
		s := testServer(t, api, nil, nil, nil)

		rec := get(t, s, "/api/prices?region=C&duration=4&capacity=10")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp pricesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.EstimatedCost)
		// Cheapest 4h block averages 8p, 10 kWh costs 0.80 GBP.
		assert.Equal(t, 0.8, *resp.EstimatedCost)
	})
}

func TestGetStats(t *testing.T) {
	t.Run("returns the snapshot", func(t *testing.T) {
		stats := &mockStats{
			LoadStatsFunc: func(region string, year int) (model.AnnualStats, error) {
				assert.Equal(t, "H", region)
				assert.Equal(t, 2024, year)
				return model.AnnualStats{RegionCode: "H", Year: 2024, DaysProcessed: 366}, nil
			},
		}
		s := testServer(t, &mockAPI{}, nil, stats, nil)

		rec := get(t, s, "/api/stats?region=H&year=2024")
		require.Equal(t, http.StatusOK, rec.Code)

		var loaded model.AnnualStats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loaded))
		assert.Equal(t, 366, loaded.DaysProcessed)
	})

	t.Run("defaults to national and current year", func(t *testing.T) {
		stats := &mockStats{
			LoadStatsFunc: func(region string, year int) (model.AnnualStats, error) {
				assert.Equal(t, "national", region)
				assert.Equal(t, 2025, year)
				return model.AnnualStats{Year: 2025}, nil
			},
		}
		s := testServer(t, &mockAPI{}, nil, stats, nil)
		assert.Equal(t, http.StatusOK, get(t, s, "/api/stats").Code)
	})

	t.Run("missing snapshot is a 404", func(t *testing.T) {
		stats := &mockStats{
			LoadStatsFunc: func(region string, year int) (model.AnnualStats, error) {
				return model.AnnualStats{}, store.ErrNotFound
			},
		}
		s := testServer(t, &mockAPI{}, nil, stats, nil)
		assert.Equal(t, http.StatusNotFound, get(t, s, "/api/stats?region=C").Code)
	})

	t.Run("invalid year is a bad request", func(t *testing.T) {
		s := testServer(t, &mockAPI{}, nil, &mockStats{}, nil)
		assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/stats?year=next").Code)
	})
}

func TestGetRegionBySlug(t *testing.T) {
	s := testServer(t, &mockAPI{}, nil, nil, nil)

	rec := get(t, s, "/api/region/london")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "C", resp["region"])
	assert.Equal(t, "London", resp["name"])

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/region/atlantis").Code)
}

func TestGetRegions(t *testing.T) {
	t.Run("falls back to static list when discovery fails", func(t *testing.T) {
		api := &mockAPI{
			GetRegionsFunc: func(ctx context.Context) ([]model.Region, error) {
				return nil, errors.New("octopus down")
			},
		}
		s := testServer(t, api, nil, nil, nil)

		rec := get(t, s, "/api/regions")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Results []model.Region `json:"results"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Results, 14)
	})
}

func TestGetProducts(t *testing.T) {
	api := &mockAPI{
		GetAgileProductsFunc: func(ctx context.Context) ([]model.Product, error) {
			return []model.Product{{Code: "AGILE-24-10-01", FullName: "Agile Octopus October 2024 v1"}}, nil
		},
	}
	s := testServer(t, api, nil, nil, nil)

	rec := get(t, s, "/api/products")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []model.Product `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "AGILE-24-10-01", resp.Results[0].Code)
}

func TestPostcodeLookup(t *testing.T) {
	t.Run("single region", func(t *testing.T) {
		api := &mockAPI{
			LookupRegionByPostcodeFunc: func(ctx context.Context, postcode string) ([]string, error) {
				return []string{"C"}, nil
			},
		}
		s := testServer(t, api, nil, nil, nil)

		rec := get(t, s, "/api/postcode?postcode=SW1A1AA")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Regions []string `json:"regions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"C"}, resp.Regions)
	})

	t.Run("no match is a 404", func(t *testing.T) {
		api := &mockAPI{
			LookupRegionByPostcodeFunc: func(ctx context.Context, postcode string) ([]string, error) {
				return nil, nil
			},
		}
		s := testServer(t, api, nil, nil, nil)
		assert.Equal(t, http.StatusNotFound, get(t, s, "/api/postcode?postcode=ZZ99").Code)
	})

	t.Run("missing postcode is a bad request", func(t *testing.T) {
		s := testServer(t, &mockAPI{}, nil, nil, nil)
		assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/postcode").Code)
	})
}
