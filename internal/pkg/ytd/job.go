package ytd

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parkes-group/octopus/internal/pkg/model"
	"github.com/parkes-group/octopus/internal/pkg/stats"
	"github.com/parkes-group/octopus/internal/pkg/store"
	"github.com/parkes-group/octopus/internal/pkg/uktime"
)

const (
	fetchPageSize = 1500
	// Fetched window boundaries can clip a partial slot at each edge.
	boundarySlack = 2
)

type fetcher interface {
	GetPrices(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error)
	GetPricesRange(ctx context.Context, productCode, regionCode string, from, to time.Time, pageSize int) (model.PriceSlots, error)
}

type rawStore interface {
	LoadRawPrices(region string, year int) (model.PriceSlots, error)
	SaveRawPrices(region string, year int, prices model.PriceSlots) error
	SaveStats(stats model.AnnualStats) error
}

type priceCache interface {
	Put(productCode, regionCode string, prices model.PriceSlots) error
}

// Job refreshes raw year files, annual statistics and the price cache for a
// set of regions. One region's failure never aborts the others.
type Job struct {
	ProductCode string
	Regions     []string
	Assumptions model.Assumptions
	Fetcher     fetcher
	Store       rawStore
	Cache       priceCache

	// MaxParallel bounds concurrent region updates; the regions are
	// independent so the limit only protects the upstream API. Zero means
	// sequential.
	MaxParallel int

	logger *zap.Logger
	now    func() time.Time
}

func NewJob(productCode string, regions []string, assumptions model.Assumptions, f fetcher, s rawStore, c priceCache) *Job {
	return &Job{
		ProductCode: productCode,
		Regions:     regions,
		Assumptions: assumptions,
		Fetcher:     f,
		Store:       s,
		Cache:       c,
		MaxParallel: 4,
		logger:      zap.L(),
		now:         uktime.Now,
	}
}

// Run updates every configured region and then recomputes the national
// aggregate from the successful regional results. The returned error is
// only non-nil when the context is cancelled; per-region failures are
// logged and counted instead.
func (j *Job) Run(ctx context.Context) error {
	year := j.now().Year()

	var (
		mu       sync.Mutex
		regional []model.AnnualStats
		failed   int
	)

	eg, ctx := errgroup.WithContext(ctx)
	if j.MaxParallel > 0 {
		eg.SetLimit(j.MaxParallel)
	}

	for _, region := range j.Regions {
		region := region
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			regionStats, err := j.updateRegion(ctx, region, year)
			if err != nil {
				j.logger.Error("region update failed",
					zap.String("region", region),
					zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			regional = append(regional, regionStats)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	j.logger.Info("ytd update finished",
		zap.Int("regions_updated", len(regional)),
		zap.Int("regions_failed", failed))

	if national, ok := stats.ComputeNationalStats(sortByRegion(regional)); ok {
		if err := j.Store.SaveStats(national); err != nil {
			j.logger.Error("failed to save national statistics", zap.Error(err))
		}
	}
	return nil
}

func (j *Job) updateRegion(ctx context.Context, region string, year int) (model.AnnualStats, error) {
	existing, err := j.Store.LoadRawPrices(region, year)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			// A present but unreadable year file fails the region; starting
			// from empty here would overwrite it with a two-day window.
			return model.AnnualStats{}, err
		}
		j.logger.Debug("no existing raw data", zap.String("region", region))
		existing = nil
	}

	merged := existing
	if plan := DetermineFetchPlan(region, existing, j.now()); plan != nil {
		j.logger.Info("fetching incremental prices",
			zap.String("region", region),
			zap.String("reason", plan.Reason),
			zap.Time("period_from", plan.PeriodFrom),
			zap.Time("period_to", plan.PeriodTo))

		fetched, err := j.Fetcher.GetPricesRange(ctx, j.ProductCode, region, plan.PeriodFrom, plan.PeriodTo, fetchPageSize)
		if err != nil {
			return model.AnnualStats{}, err
		}

		expected := ExpectedSlotCount(plan.PeriodFrom, plan.PeriodTo)
		if !IsSlotCountReasonable(len(fetched), expected, boundarySlack) {
			j.logger.Warn("unexpected slot count in fetched window",
				zap.String("region", region),
				zap.Int("actual", len(fetched)),
				zap.Int("expected", expected))
		}

		merged = DedupeSort(append(existing, fetched...))
		for _, finding := range ValidateSeries(merged) {
			j.logger.Warn("raw series validation finding",
				zap.String("region", region),
				zap.String("finding", finding))
		}

		if err := j.Store.SaveRawPrices(region, year, merged); err != nil {
			return model.AnnualStats{}, err
		}
	} else {
		j.logger.Info("raw data already covers tomorrow, skipping fetch", zap.String("region", region))
	}

	regionStats := stats.ComputeAnnualStatsFromSlots(merged, year, region, j.ProductCode, j.Assumptions)
	if err := j.Store.SaveStats(regionStats); err != nil {
		return model.AnnualStats{}, err
	}

	j.refreshCache(ctx, region)
	return regionStats, nil
}

// refreshCache re-primes the price cache for a region so the next page load
// does not pay for an upstream fetch. Best effort: cache trouble never
// fails the raw update.
func (j *Job) refreshCache(ctx context.Context, region string) {
	if j.Cache == nil {
		return
	}
	prices, err := j.Fetcher.GetPrices(ctx, j.ProductCode, region)
	if err != nil {
		j.logger.Warn("cache refresh fetch failed", zap.String("region", region), zap.Error(err))
		return
	}
	if err := j.Cache.Put(j.ProductCode, region, prices); err != nil {
		j.logger.Warn("cache refresh write failed", zap.String("region", region), zap.Error(err))
	}
}

// sortByRegion gives the national aggregate a stable source_regions order
// regardless of goroutine completion order.
func sortByRegion(regional []model.AnnualStats) []model.AnnualStats {
	out := append([]model.AnnualStats{}, regional...)
	sort.Slice(out, func(i, k int) bool {
		return out[i].RegionCode < out[k].RegionCode
	})
	return out
}
