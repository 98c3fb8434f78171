package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/parkes-group/octopus/internal/pkg/model"
)

// Config holds all runtime settings. Values come from the environment and
// may be overridden by CLI flags in main.go.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"INFO"`
	DataDir    string `env:"DATA_DIR" envDefault:"data"`

	OctopusAPIBaseURL string `env:"OCTOPUS_API_BASE_URL" envDefault:"https://api.octopus.energy/v1"`
	// Fallback product code, overridden by product discovery.
	OctopusProductCode     string `env:"OCTOPUS_PRODUCT_CODE" envDefault:"AGILE-24-10-01"`
	OctopusAPITimeoutSecs  int    `env:"OCTOPUS_API_TIMEOUT" envDefault:"10"`
	ProductDirectionFilter string `env:"OCTOPUS_PRODUCT_DIRECTION_FILTER" envDefault:"IMPORT"`

	CacheExpiryMinutes int `env:"CACHE_EXPIRY_MINUTES" envDefault:"5"`

	// Annual statistics assumptions.
	OfgemPriceCapPPerKwh      float64 `env:"OFGEM_PRICE_CAP_P_PER_KWH" envDefault:"28.6"`
	StatsDailyKwh             float64 `env:"STATS_DAILY_KWH" envDefault:"11.0"`
	StatsBatteryChargePowerKw float64 `env:"STATS_BATTERY_CHARGE_POWER_KW" envDefault:"3.5"`
	StatsBlockUsagePercent    float64 `env:"STATS_CHEAPEST_BLOCK_USAGE_PERCENT" envDefault:"35.0"`
	StatsBlockDurationHours   float64 `env:"STATS_BLOCK_DURATION_HOURS" envDefault:"3.5"`

	DefaultBlockDurationHours float64 `env:"DEFAULT_BLOCK_DURATION_HOURS" envDefault:"3.5"`
}

// New parses configuration from the environment.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Assumptions returns the statistics assumption bundle built from config
// defaults. Callers pass this explicitly into the aggregator.
func (c *Config) Assumptions() model.Assumptions {
	return model.Assumptions{
		BlockDurationHours:        c.StatsBlockDurationHours,
		DailyKwh:                  c.StatsDailyKwh,
		CheapestBlockUsagePercent: c.StatsBlockUsagePercent,
		PriceCapPPerKwh:           c.OfgemPriceCapPPerKwh,
		BatteryChargePowerKw:      c.StatsBatteryChargePowerKw,
	}
}

// RegionNames maps Octopus region codes (GSP groups) to display names.
// Regions are static; no API call is needed to enumerate them.
var RegionNames = map[string]string{
	"A": "Eastern England",
	"B": "East Midlands",
	"C": "London",
	"D": "Merseyside and Northern Wales",
	"E": "West Midlands",
	"F": "North Eastern England",
	"G": "North Western England",
	"H": "Southern England",
	"J": "South Eastern England",
	"K": "Southern Wales",
	"L": "South Western England",
	"M": "Yorkshire",
	"N": "Southern Scotland",
	"P": "Northern Scotland",
}

// RegionCodes returns the known region codes in a stable order.
func RegionCodes() []string {
	return []string{"A", "B", "C", "D", "E", "F", "G", "H", "J", "K", "L", "M", "N", "P"}
}

// Regions returns the static region list.
func Regions() []model.Region {
	regions := make([]model.Region, 0, len(RegionNames))
	for _, code := range RegionCodes() {
		regions = append(regions, model.Region{Code: code, Name: RegionNames[code]})
	}
	return regions
}

// PricesURL builds the standard-unit-rates URL for a product and region.
func (c *Config) PricesURL(productCode, regionCode string) string {
	return fmt.Sprintf("%s/products/%s/electricity-tariffs/E-1R-%s-%s/standard-unit-rates/",
		c.OctopusAPIBaseURL, productCode, productCode, regionCode)
}

// ProductsURL builds the product listing URL.
func (c *Config) ProductsURL() string {
	return c.OctopusAPIBaseURL + "/products/"
}

// RegionsURL builds the GSP group listing URL.
func (c *Config) RegionsURL() string {
	return c.OctopusAPIBaseURL + "/industry/grid-supply-points/?group_by=region"
}

// GSPLookupURL builds the grid-supply-point lookup URL for a postcode.
// Postcodes are normalised to uppercase with spaces removed; validity is the
// API's call, not ours.
func (c *Config) GSPLookupURL(postcode string) string {
	normalized := strings.ToUpper(strings.ReplaceAll(postcode, " ", ""))
	return fmt.Sprintf("%s/industry/grid-supply-points/?postcode=%s", c.OctopusAPIBaseURL, normalized)
}
