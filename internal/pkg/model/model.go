package model

import "time"

// PriceSlot is a single half-hourly unit rate as returned by the Octopus
// standard-unit-rates endpoint. ValueIncVat is pence per kWh and may be
// negative or zero. ValidTo is always ValidFrom + 30 minutes.
type PriceSlot struct {
	ValueIncVat float64   `json:"value_inc_vat"`
	ValidFrom   time.Time `json:"valid_from"`
	ValidTo     time.Time `json:"valid_to"`
}

type PriceSlots []PriceSlot

// Block is a contiguous run of half-hour slots with derived price fields.
// Contiguity is positional in the ascending-sorted slot sequence.
type Block struct {
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	AveragePrice float64    `json:"average_price"`
	TotalCost    float64    `json:"total_cost"`
	Slots        PriceSlots `json:"slots,omitempty"`
}

// DayResult holds one UK calendar day's derived outputs. Absent results are
// nil so the presentation layer can render a "no data" state rather than a
// zero value that reads like a real price.
type DayResult struct {
	Date           string     `json:"date"`
	LowestSlot     *PriceSlot `json:"lowest_slot"`
	CheapestBlock  *Block     `json:"cheapest_block"`
	RemainingBlock *Block     `json:"remaining_block"`
	DailyAverage   *float64   `json:"daily_average"`
	SlotCount      int        `json:"slot_count"`
}

// Assumptions is the configuration bundle for annual statistics. It is
// always passed explicitly, never read from ambient state.
type Assumptions struct {
	BlockDurationHours        float64 `json:"block_hours"`
	DailyKwh                  float64 `json:"daily_kwh"`
	CheapestBlockUsagePercent float64 `json:"cheapest_block_usage_percent"`
	PriceCapPPerKwh           float64 `json:"price_cap_p_per_kwh"`
	BatteryChargePowerKw      float64 `json:"battery_charge_power_kw"`
}

type CheapestBlockStats struct {
	BlockHours      float64 `json:"block_hours"`
	AvgPricePPerKwh float64 `json:"avg_price_p_per_kwh"`
}

type DailyAverageStats struct {
	AvgPricePPerKwh float64 `json:"avg_price_p_per_kwh"`
}

type SavingsStats struct {
	SavingsPPerKwh    float64 `json:"savings_p_per_kwh"`
	SavingsPercentage float64 `json:"savings_percentage"`
	AnnualSavingGbp   float64 `json:"annual_saving_gbp"`
}

type PriceCapStats struct {
	CapPricePPerKwh float64 `json:"cap_price_p_per_kwh"`
	SavingsPPerKwh  float64 `json:"savings_p_per_kwh"`
	AnnualSavingGbp float64 `json:"annual_saving_gbp"`
}

type NegativePricingStats struct {
	TotalNegativeSlots      int     `json:"total_negative_slots"`
	TotalNegativeHours      float64 `json:"total_negative_hours"`
	AvgNegativePricePPerKwh float64 `json:"avg_negative_price_p_per_kwh"`
	TotalPaidGbp            float64 `json:"total_paid_gbp"`
	AvgPaymentPerDayGbp     float64 `json:"avg_payment_per_day_gbp"`
}

// AnnualStats is the persisted per-region (or national) aggregate for one
// calendar year. Computed once from raw slots, read-only until regenerated.
type AnnualStats struct {
	Year            int    `json:"year"`
	RegionCode      string `json:"region_code"`
	ProductCode     string `json:"product_code"`
	CalculationDate string `json:"calculation_date"`
	DaysProcessed   int    `json:"days_processed"`
	DaysFailed      int    `json:"days_failed"`

	// Set only on the national aggregate, which is an unweighted arithmetic
	// mean over regions, explicitly not consumption-weighted.
	Methodology   string   `json:"methodology,omitempty"`
	SourceRegions []string `json:"source_regions,omitempty"`

	CheapestBlock      CheapestBlockStats   `json:"cheapest_block"`
	DailyAverage       DailyAverageStats    `json:"daily_average"`
	SavingsVsDailyAvg  SavingsStats         `json:"savings_vs_daily_average"`
	PriceCapComparison PriceCapStats        `json:"price_cap_comparison"`
	NegativePricing    NegativePricingStats `json:"negative_pricing"`
	Assumptions        Assumptions          `json:"assumptions"`
}

// Region is an Octopus distribution region (GSP group).
type Region struct {
	Code string `json:"region"`
	Name string `json:"name"`
}

// Product is a discovered Agile tariff product.
type Product struct {
	Code     string `json:"code"`
	FullName string `json:"full_name"`
}
