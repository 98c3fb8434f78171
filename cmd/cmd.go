package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parkes-group/octopus/internal/pkg/cache"
	"github.com/parkes-group/octopus/internal/pkg/config"
	"github.com/parkes-group/octopus/internal/pkg/model"
	"github.com/parkes-group/octopus/internal/pkg/octopus"
	"github.com/parkes-group/octopus/internal/pkg/server"
	"github.com/parkes-group/octopus/internal/pkg/stats"
	"github.com/parkes-group/octopus/internal/pkg/store"
	"github.com/parkes-group/octopus/internal/pkg/tracker"
	"github.com/parkes-group/octopus/internal/pkg/uktime"
	"github.com/parkes-group/octopus/internal/pkg/ytd"
)

var errCron = errors.New("cron error")

// Raw year files and caches live under DataDir; see internal/pkg/store.

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	if ctx.IsSet("listen-addr") {
		cfg.ListenAddr = ctx.String("listen-addr")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("data-dir") {
		cfg.DataDir = ctx.String("data-dir")
	}
	if ctx.IsSet("product") {
		cfg.OctopusProductCode = ctx.String("product")
	}
	return cfg, nil
}

func setupLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.Level = parsed
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	logger := zap.Must(logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// ServeCommand starts the API server plus the scheduled background jobs.
func ServeCommand(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	return run(ctx.Context, cfg)
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()

	errorChan := make(chan error, 1000)
	eg, ctx := errgroup.WithContext(ctx)

	apiClient := octopus.New(cfg)
	dataStore := store.New(cfg.DataDir)
	priceCache := cache.New(filepath.Join(cfg.DataDir, "cache"), time.Duration(cfg.CacheExpiryMinutes)*time.Minute)
	requestTracker := tracker.New(dataStore.StatsDir())
	updateJob := ytd.NewJob(cfg.OctopusProductCode, config.RegionCodes(), cfg.Assumptions(), apiClient, dataStore, priceCache)

	eg.Go(func() error {
		return cronYtdUpdate(ctx, updateJob, errorChan)
	})

	eg.Go(func() error {
		return cronCacheCleanup(priceCache, errorChan)
	})

	eg.Go(func() error {
		srv := &http.Server{
			Handler:      server.New(cfg, apiClient, priceCache, dataStore, requestTracker).Handler(),
			Addr:         cfg.ListenAddr,
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}
		logger.Info("api server listening", zap.String("addr", cfg.ListenAddr))

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		for {
			select {
			case err := <-errorChan:
				if errors.Is(err, errCron) {
					logger.Error("cron error", zap.Error(err))
					return err
				}
			case <-ctx.Done():
				logger.Info("context done")
				return ctx.Err()
			}
		}
	})

	return eg.Wait()
}

// cronYtdUpdate refreshes raw data, statistics and caches shortly after the
// 16:00 publication window each day. It also runs once at startup so a new
// deployment is never a day behind.
func cronYtdUpdate(ctx context.Context, job *ytd.Job, errChan chan error) error {
	if err := job.Run(ctx); err != nil {
		return err
	}

	c := cron.New()
	if _, err := c.AddFunc("CRON_TZ=Europe/London 15 16 * * *", func() {
		if err := job.Run(ctx); err != nil {
			zap.L().Error("scheduled ytd update failed", zap.Error(err))
			errChan <- errCron
			return
		}
		zap.L().Info("scheduled ytd update completed")
	}); err != nil {
		return err
	}

	c.Run()
	return nil
}

func cronCacheCleanup(priceCache *cache.Cache, errChan chan error) error {
	priceCache.ClearLegacy()

	c := cron.New()
	if _, err := c.AddFunc("CRON_TZ=Europe/London 0 3 * * *", func() {
		priceCache.ClearLegacy()
		zap.L().Info("cache cleanup completed")
	}); err != nil {
		errChan <- errCron
		return err
	}

	c.Run()
	return nil
}

// YtdUpdateCommand runs the year-to-date refresh once and exits. Useful for
// scheduled task runners that expect a short-lived process.
func YtdUpdateCommand(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	apiClient := octopus.New(cfg)
	dataStore := store.New(cfg.DataDir)
	priceCache := cache.New(filepath.Join(cfg.DataDir, "cache"), time.Duration(cfg.CacheExpiryMinutes)*time.Minute)
	job := ytd.NewJob(cfg.OctopusProductCode, regionsArg(ctx), cfg.Assumptions(), apiClient, dataStore, priceCache)
	return job.Run(ctx.Context)
}

// StatsCommand recomputes annual statistics from stored raw data and prints
// the result, without touching the upstream API.
func StatsCommand(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	year, err := yearArg(ctx)
	if err != nil {
		return err
	}

	dataStore := store.New(cfg.DataDir)
	regional := make([]model.AnnualStats, 0)
	for _, region := range regionsArg(ctx) {
		prices, err := dataStore.LoadRawPrices(region, year)
		if err != nil {
			logger.Warn("no raw data for region", zap.String("region", region), zap.Int("year", year), zap.Error(err))
			continue
		}
		regionStats := stats.ComputeAnnualStatsFromSlots(prices, year, region, cfg.OctopusProductCode, cfg.Assumptions())
		if err := dataStore.SaveStats(regionStats); err != nil {
			return err
		}
		regional = append(regional, regionStats)
	}

	if national, ok := stats.ComputeNationalStats(regional); ok {
		if err := dataStore.SaveStats(national); err != nil {
			return err
		}
		regional = append(regional, national)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(regional)
}

// DownloadCommand fetches a full year of raw half-hourly prices for the
// selected regions and writes the year files, replacing whatever was stored.
func DownloadCommand(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	year, err := yearArg(ctx)
	if err != nil {
		return err
	}

	from := time.Date(year, 1, 1, 0, 0, 0, 0, uktime.Location).UTC()
	to := time.Date(year+1, 1, 1, 0, 0, 0, 0, uktime.Location).UTC()
	if now := time.Now().UTC(); to.After(now) {
		to = now
	}

	apiClient := octopus.New(cfg)
	dataStore := store.New(cfg.DataDir)
	for _, region := range regionsArg(ctx) {
		prices, err := apiClient.GetPricesRange(ctx.Context, cfg.OctopusProductCode, region, from, to, 1500)
		if err != nil {
			return err
		}
		merged := ytd.DedupeSort(prices)
		for _, finding := range ytd.ValidateSeries(merged) {
			logger.Warn("raw series validation finding",
				zap.String("region", region),
				zap.String("finding", finding))
		}
		if err := dataStore.SaveRawPrices(region, year, merged); err != nil {
			return err
		}
		logger.Info("downloaded raw year data",
			zap.String("region", region),
			zap.Int("year", year),
			zap.Int("slots", len(merged)))
	}
	return nil
}

func regionsArg(ctx *cli.Context) []string {
	if regions := ctx.StringSlice("region"); len(regions) > 0 {
		return regions
	}
	return config.RegionCodes()
}

func yearArg(ctx *cli.Context) (int, error) {
	raw := ctx.String("year")
	if raw == "" {
		return uktime.Now().Year(), nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid year: " + raw)
	}
	return year, nil
}
