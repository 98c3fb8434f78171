// Package server exposes the pricing and statistics API over HTTP. All
// responses are JSON; absent analysis results serialise as null rather
// than zero values.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/cors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/parkes-group/octopus/internal/pkg/config"
	"github.com/parkes-group/octopus/internal/pkg/model"
	"github.com/parkes-group/octopus/internal/pkg/pricing"
	"github.com/parkes-group/octopus/internal/pkg/slugs"
	"github.com/parkes-group/octopus/internal/pkg/store"
	"github.com/parkes-group/octopus/internal/pkg/uktime"
)

type pricesAPI interface {
	GetPrices(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error)
	GetAgileProducts(ctx context.Context) ([]model.Product, error)
	GetRegions(ctx context.Context) ([]model.Region, error)
	LookupRegionByPostcode(ctx context.Context, postcode string) ([]string, error)
}

type priceCache interface {
	Get(productCode, regionCode string) model.PriceSlots
	Put(productCode, regionCode string, prices model.PriceSlots) error
}

type statsStore interface {
	LoadStats(region string, year int) (model.AnnualStats, error)
}

type requestTracker interface {
	Record(regionCode string) bool
}

type Server struct {
	cfg     *config.Config
	api     pricesAPI
	cache   priceCache
	stats   statsStore
	tracker requestTracker
	logger  *zap.Logger
	now     func() time.Time
}

func New(cfg *config.Config, api pricesAPI, cache priceCache, stats statsStore, tracker requestTracker) *Server {
	return &Server{
		cfg:     cfg,
		api:     api,
		cache:   cache,
		stats:   stats,
		tracker: tracker,
		logger:  zap.L(),
		now:     uktime.Now,
	}
}

// Handler builds the routed handler with logging and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/regions", s.getRegions)
	mux.HandleFunc("GET /api/products", s.getProducts)
	mux.HandleFunc("GET /api/prices", s.getPrices)
	mux.HandleFunc("GET /api/stats", s.getStats)
	mux.HandleFunc("GET /api/region/{slug}", s.getRegionBySlug)
	mux.HandleFunc("GET /api/postcode", s.postcodeLookup)
	return cors.AllowAll().Handler(LoggingMiddleware(mux))
}

func (s *Server) getRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.api.GetRegions(r.Context())
	if err != nil {
		// Regions are static, the API call only confirms them.
		s.logger.Warn("region discovery failed, using static list", zap.Error(err))
		regions = config.Regions()
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": regions})
}

func (s *Server) getProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.api.GetAgileProducts(r.Context())
	if err != nil {
		s.logger.Error("product discovery failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "unable to load tariff information")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": products})
}

type pricesResponse struct {
	Region        string            `json:"region"`
	ProductCode   string            `json:"product_code"`
	DurationHours float64           `json:"duration_hours"`
	CapacityKwh   *float64          `json:"capacity_kwh,omitempty"`
	EstimatedCost *float64          `json:"estimated_charging_cost,omitempty"`
	Days          []model.DayResult `json:"days"`
	Prices        model.PriceSlots  `json:"prices"`
}

func (s *Server) getPrices(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	if region == "" {
		writeError(w, http.StatusBadRequest, "region is required")
		return
	}
	if _, ok := config.RegionNames[region]; !ok {
		writeError(w, http.StatusBadRequest, "unknown region "+region)
		return
	}

	productCode := r.URL.Query().Get("product")
	if productCode == "" {
		productCode = s.cfg.OctopusProductCode
	}

	duration := s.cfg.DefaultBlockDurationHours
	if raw := r.URL.Query().Get("duration"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			duration = parsed
		}
	}
	if duration < pricing.MinBlockHours || duration > pricing.MaxBlockHours {
		duration = s.cfg.DefaultBlockDurationHours
	}

	var capacity *float64
	if raw := r.URL.Query().Get("capacity"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			capacity = &parsed
		}
	}

	s.tracker.Record(region)

	slots := s.cache.Get(productCode, region)
	if slots == nil {
		fetched, err := s.api.GetPrices(r.Context(), productCode, region)
		if err != nil {
			s.logger.Error("price fetch failed",
				zap.String("region", region),
				zap.String("product", productCode),
				zap.Error(err))
			writeError(w, http.StatusBadGateway, "unable to fetch current prices")
			return
		}
		slots = fetched
		if err := s.cache.Put(productCode, region, slots); err != nil {
			s.logger.Warn("failed to cache prices", zap.Error(err))
		}
	}

	sorted := pricing.SortByValidFrom(slots)
	now := s.now()

	resp := pricesResponse{
		Region:        region,
		ProductCode:   productCode,
		DurationHours: duration,
		CapacityKwh:   capacity,
		Days:          []model.DayResult{},
		Prices:        sorted,
	}

	byDay := pricing.GroupByCalendarDay(sorted, uktime.Location)
	for _, date := range sortedKeys(byDay) {
		resp.Days = append(resp.Days, pricing.AnalyzeDay(date, byDay[date], duration, now))
	}

	if capacity != nil {
		if block := cheapestDayBlock(resp.Days); block != nil {
			if cost, ok := pricing.EstimateChargingCost(block.AveragePrice, *capacity); ok {
				resp.EstimatedCost = &cost
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	if region == "" {
		region = "national"
	}

	year := s.now().Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		year = parsed
	}

	stats, err := s.stats.LoadStats(region, year)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no statistics for this region and year")
			return
		}
		s.logger.Error("failed to load statistics",
			zap.String("region", region),
			zap.Int("year", year),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to load statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getRegionBySlug(w http.ResponseWriter, r *http.Request) {
	regionSlug := r.PathValue("slug")
	code, ok := slugs.CodeFromSlug(regionSlug)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown region")
		return
	}
	name, _ := slugs.NameFromCode(code)
	writeJSON(w, http.StatusOK, map[string]string{
		"region": code,
		"name":   name,
		"slug":   regionSlug,
	})
}

func (s *Server) postcodeLookup(w http.ResponseWriter, r *http.Request) {
	postcode := r.URL.Query().Get("postcode")
	if postcode == "" {
		writeError(w, http.StatusBadRequest, "postcode is required")
		return
	}

	regions, err := s.api.LookupRegionByPostcode(r.Context(), postcode)
	if err != nil {
		s.logger.Error("postcode lookup failed", zap.String("postcode", postcode), zap.Error(err))
		writeError(w, http.StatusBadGateway, "unable to look up postcode")
		return
	}
	if len(regions) == 0 {
		writeError(w, http.StatusNotFound, "no region found for postcode")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": regions})
}

// cheapestDayBlock picks the lowest-average block among the per-day results.
// Each candidate was found within a single UK calendar day, so the priced
// window never crosses midnight. Ties keep the earlier day.
func cheapestDayBlock(days []model.DayResult) *model.Block {
	var best *model.Block
	for i := range days {
		block := days[i].CheapestBlock
		if block != nil && (best == nil || block.AveragePrice < best.AveragePrice) {
			best = block
		}
	}
	return best
}

func sortedKeys(byDay map[string]model.PriceSlots) []string {
	keys := lo.Keys(byDay)
	sort.Strings(keys)
	return keys
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
