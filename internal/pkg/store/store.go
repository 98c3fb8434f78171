// Package store persists raw year price data and annual statistics
// snapshots as JSON documents on disk. The original deployment target could
// not run a database, so everything is deliberately file based.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/parkes-group/octopus/internal/pkg/model"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("store: document not found")

type Store struct {
	rawDir   string
	statsDir string
	logger   *zap.Logger
}

// New creates a store rooted at dataDir, with raw/ and stats/ subdirectories.
func New(dataDir string) *Store {
	return &Store{
		rawDir:   filepath.Join(dataDir, "raw"),
		statsDir: filepath.Join(dataDir, "stats"),
		logger:   zap.L(),
	}
}

func (s *Store) StatsDir() string { return s.statsDir }

// RawEnvelope is the on-disk shape of a raw year file.
type RawEnvelope struct {
	RegionCode string           `json:"region_code"`
	Year       int              `json:"year"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Prices     model.PriceSlots `json:"prices"`
}

func (s *Store) rawPath(region string, year int) string {
	return filepath.Join(s.rawDir, fmt.Sprintf("%s_%d.json", region, year))
}

func statsFilename(region string, year int) string {
	return fmt.Sprintf("%s_%d.json", region, year)
}

// LoadRawPrices reads the raw price series for a region and year.
func (s *Store) LoadRawPrices(region string, year int) (model.PriceSlots, error) {
	var envelope RawEnvelope
	if err := readJSON(s.rawPath(region, year), &envelope); err != nil {
		return nil, err
	}
	s.logger.Debug("loaded raw price slots",
		zap.String("region", region),
		zap.Int("year", year),
		zap.Int("slots", len(envelope.Prices)))
	return envelope.Prices, nil
}

// SaveRawPrices writes the raw price series for a region and year.
func (s *Store) SaveRawPrices(region string, year int, prices model.PriceSlots) error {
	envelope := RawEnvelope{
		RegionCode: region,
		Year:       year,
		UpdatedAt:  time.Now().UTC(),
		Prices:     prices,
	}
	if err := WriteJSONAtomic(s.rawPath(region, year), envelope); err != nil {
		return err
	}
	s.logger.Info("saved raw price data",
		zap.String("region", region),
		zap.Int("year", year),
		zap.Int("slots", len(prices)))
	return nil
}

// SaveStats persists an annual statistics snapshot. The region code in the
// stats determines the filename; the national aggregate uses "national".
func (s *Store) SaveStats(stats model.AnnualStats) error {
	region := stats.RegionCode
	if region == "" {
		region = "national"
	}
	path := filepath.Join(s.statsDir, statsFilename(region, stats.Year))
	if err := WriteJSONAtomic(path, stats); err != nil {
		return err
	}
	s.logger.Info("saved statistics", zap.String("path", path))
	return nil
}

// LoadStats reads an annual statistics snapshot for a region and year. Use
// region "national" for the national aggregate.
func (s *Store) LoadStats(region string, year int) (model.AnnualStats, error) {
	var stats model.AnnualStats
	path := filepath.Join(s.statsDir, statsFilename(region, year))
	if err := readJSON(path, &stats); err != nil {
		return model.AnnualStats{}, err
	}
	return stats, nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// WriteJSONAtomic writes v as indented JSON via a temp file and rename, so a
// crashed writer never leaves a half-written document behind. Parent
// directories are created as needed.
func WriteJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
