// Package stats computes annual Agile pricing statistics: cheapest-block
// savings vs the daily average, the Ofgem price cap comparison, and negative
// pricing exposure.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/parkes-group/octopus/internal/pkg/model"
	"github.com/parkes-group/octopus/internal/pkg/pricing"
	"github.com/parkes-group/octopus/internal/pkg/uktime"
)

// NationalRegionCode identifies the national aggregate snapshot.
const NationalRegionCode = "national"

// MethodologyUnweightedMean documents how national figures are derived, so
// readers do not mistake them for consumption-weighted averages.
const MethodologyUnweightedMean = "unweighted_regional_mean"

// ComputeAnnualStats aggregates a year of daily slot groups into an
// AnnualStats snapshot. dailyGroups maps YYYY-MM-DD (UK calendar dates) to
// that day's slots, as produced by pricing.GroupByCalendarDay.
//
// A day that cannot produce a cheapest block, usually a partial day with
// fewer slots than the window needs, is counted in DaysFailed and excluded
// from the means; one bad day never aborts the year. Assumptions are passed
// explicitly and echoed into the output for auditability.
func ComputeAnnualStats(dailyGroups map[string]model.PriceSlots, year int, regionCode, productCode string, assumptions model.Assumptions) model.AnnualStats {
	logger := zap.L()
	logger.Info("computing annual statistics",
		zap.Int("year", year),
		zap.String("region", regionCode),
		zap.Float64("daily_kwh", assumptions.DailyKwh),
		zap.Float64("battery_charge_power_kw", assumptions.BatteryChargePowerKw),
		zap.Float64("price_cap_p_per_kwh", assumptions.PriceCapPPerKwh))

	dates := lo.Keys(dailyGroups)
	sort.Strings(dates)

	var (
		blockPriceSum float64
		blockDays     int
		dailyAvgSum   float64
		dailyAvgDays  int

		daysProcessed int
		daysFailed    int

		negativeSlots  int
		negativeAbsSum float64
	)

	for _, date := range dates {
		slots := pricing.SortByValidFrom(dailyGroups[date])
		if len(slots) == 0 {
			daysFailed++
			continue
		}

		block, ok := pricing.CheapestBlock(slots, assumptions.BlockDurationHours)
		if !ok {
			logger.Warn("day skipped: no cheapest block",
				zap.String("date", date),
				zap.Int("slots", len(slots)))
			daysFailed++
			continue
		}
		blockPriceSum += block.AveragePrice
		blockDays++

		if avg, ok := pricing.DailyAverage(slots); ok {
			dailyAvgSum += avg
			dailyAvgDays++
		}

		for _, slot := range slots {
			if slot.ValueIncVat <= 0 {
				negativeSlots++
				negativeAbsSum += math.Abs(slot.ValueIncVat)
			}
		}

		daysProcessed++
	}

	var avgCheapestBlock, avgDailyAverage float64
	if blockDays > 0 {
		avgCheapestBlock = blockPriceSum / float64(blockDays)
	}
	if dailyAvgDays > 0 {
		avgDailyAverage = dailyAvgSum / float64(dailyAvgDays)
	}

	savingsPPerKwh := avgDailyAverage - avgCheapestBlock
	var savingsPercent float64
	if avgDailyAverage > 0 {
		savingsPercent = savingsPPerKwh / avgDailyAverage * 100
	}

	// Savings only apply to the share of usage shifted into the cheapest
	// block. Annualised over the days actually processed, pence to GBP.
	blockUsageKwh := assumptions.DailyKwh * assumptions.CheapestBlockUsagePercent / 100
	annualSavingGbp := savingsPPerKwh * blockUsageKwh * float64(daysProcessed) / 100

	capSavingsPPerKwh := assumptions.PriceCapPPerKwh - avgCheapestBlock
	capAnnualSavingGbp := capSavingsPPerKwh * blockUsageKwh * float64(daysProcessed) / 100

	negativeHours := float64(negativeSlots) * 0.5
	var avgNegativePrice float64
	if negativeSlots > 0 {
		avgNegativePrice = negativeAbsSum / float64(negativeSlots)
	}
	// Paid to charge: abs(price) x half an hour at the battery's charge
	// rate, per negative slot, pence to GBP.
	totalPaidGbp := negativeAbsSum * 0.5 * assumptions.BatteryChargePowerKw / 100
	var avgPaymentPerDay float64
	if daysProcessed > 0 {
		avgPaymentPerDay = totalPaidGbp / float64(daysProcessed)
	}

	logger.Info("annual statistics computed",
		zap.String("region", regionCode),
		zap.Int("days_processed", daysProcessed),
		zap.Int("days_failed", daysFailed),
		zap.Int("negative_slots", negativeSlots))

	return model.AnnualStats{
		Year:            year,
		RegionCode:      regionCode,
		ProductCode:     productCode,
		CalculationDate: uktime.Now().Format(time.RFC3339),
		DaysProcessed:   daysProcessed,
		DaysFailed:      daysFailed,
		CheapestBlock: model.CheapestBlockStats{
			BlockHours:      assumptions.BlockDurationHours,
			AvgPricePPerKwh: round2(avgCheapestBlock),
		},
		DailyAverage: model.DailyAverageStats{
			AvgPricePPerKwh: round2(avgDailyAverage),
		},
		SavingsVsDailyAvg: model.SavingsStats{
			SavingsPPerKwh:    round2(savingsPPerKwh),
			SavingsPercentage: round2(savingsPercent),
			AnnualSavingGbp:   round2(annualSavingGbp),
		},
		PriceCapComparison: model.PriceCapStats{
			CapPricePPerKwh: assumptions.PriceCapPPerKwh,
			SavingsPPerKwh:  round2(capSavingsPPerKwh),
			AnnualSavingGbp: round2(capAnnualSavingGbp),
		},
		NegativePricing: model.NegativePricingStats{
			TotalNegativeSlots:      negativeSlots,
			TotalNegativeHours:      round1(negativeHours),
			AvgNegativePricePPerKwh: round2(avgNegativePrice),
			TotalPaidGbp:            round2(totalPaidGbp),
			AvgPaymentPerDayGbp:     round3(avgPaymentPerDay),
		},
		Assumptions: assumptions,
	}
}

// ComputeAnnualStatsFromSlots groups a raw year series by UK calendar day
// and aggregates it.
func ComputeAnnualStatsFromSlots(slots model.PriceSlots, year int, regionCode, productCode string, assumptions model.Assumptions) model.AnnualStats {
	groups := pricing.GroupByCalendarDay(slots, uktime.Location)
	return ComputeAnnualStats(groups, year, regionCode, productCode, assumptions)
}

// ComputeNationalStats averages regional snapshots into a national one using
// an unweighted arithmetic mean of each numeric field. This is explicitly
// not consumption weighted; the Methodology field says so in the output.
// Returns false when no regional stats are supplied.
func ComputeNationalStats(regional []model.AnnualStats) (model.AnnualStats, bool) {
	if len(regional) == 0 {
		zap.L().Warn("no regional statistics available for national aggregation")
		return model.AnnualStats{}, false
	}

	n := float64(len(regional))
	first := regional[0]

	avgCheapestBlock := meanOf(regional, func(s model.AnnualStats) float64 { return s.CheapestBlock.AvgPricePPerKwh })
	avgDailyAverage := meanOf(regional, func(s model.AnnualStats) float64 { return s.DailyAverage.AvgPricePPerKwh })

	savingsPPerKwh := avgDailyAverage - avgCheapestBlock
	var savingsPercent float64
	if avgDailyAverage > 0 {
		savingsPercent = savingsPPerKwh / avgDailyAverage * 100
	}

	daysProcessed := int(math.Round(meanOf(regional, func(s model.AnnualStats) float64 { return float64(s.DaysProcessed) })))
	daysFailed := int(math.Round(meanOf(regional, func(s model.AnnualStats) float64 { return float64(s.DaysFailed) })))

	assumptions := first.Assumptions
	blockUsageKwh := assumptions.DailyKwh * assumptions.CheapestBlockUsagePercent / 100
	annualSavingGbp := savingsPPerKwh * blockUsageKwh * float64(daysProcessed) / 100

	capSavingsPPerKwh := assumptions.PriceCapPPerKwh - avgCheapestBlock
	capAnnualSavingGbp := capSavingsPPerKwh * blockUsageKwh * float64(daysProcessed) / 100

	totalPaidGbp := meanOf(regional, func(s model.AnnualStats) float64 { return s.NegativePricing.TotalPaidGbp })
	var avgPaymentPerDay float64
	if daysProcessed > 0 {
		avgPaymentPerDay = totalPaidGbp / float64(daysProcessed)
	}

	sourceRegions := lo.Map(regional, func(s model.AnnualStats, _ int) string { return s.RegionCode })

	zap.L().Info("national averages calculated", zap.Int("regions", int(n)))

	return model.AnnualStats{
		Year:            first.Year,
		RegionCode:      NationalRegionCode,
		ProductCode:     first.ProductCode,
		CalculationDate: uktime.Now().Format(time.RFC3339),
		DaysProcessed:   daysProcessed,
		DaysFailed:      daysFailed,
		Methodology:     MethodologyUnweightedMean,
		SourceRegions:   sourceRegions,
		CheapestBlock: model.CheapestBlockStats{
			BlockHours:      assumptions.BlockDurationHours,
			AvgPricePPerKwh: round2(avgCheapestBlock),
		},
		DailyAverage: model.DailyAverageStats{
			AvgPricePPerKwh: round2(avgDailyAverage),
		},
		SavingsVsDailyAvg: model.SavingsStats{
			SavingsPPerKwh:    round2(savingsPPerKwh),
			SavingsPercentage: round2(savingsPercent),
			AnnualSavingGbp:   round2(annualSavingGbp),
		},
		PriceCapComparison: model.PriceCapStats{
			CapPricePPerKwh: assumptions.PriceCapPPerKwh,
			SavingsPPerKwh:  round2(capSavingsPPerKwh),
			AnnualSavingGbp: round2(capAnnualSavingGbp),
		},
		NegativePricing: model.NegativePricingStats{
			TotalNegativeSlots:      int(math.Round(meanOf(regional, func(s model.AnnualStats) float64 { return float64(s.NegativePricing.TotalNegativeSlots) }))),
			TotalNegativeHours:      round1(meanOf(regional, func(s model.AnnualStats) float64 { return s.NegativePricing.TotalNegativeHours })),
			AvgNegativePricePPerKwh: round2(meanOf(regional, func(s model.AnnualStats) float64 { return s.NegativePricing.AvgNegativePricePPerKwh })),
			TotalPaidGbp:            round2(totalPaidGbp),
			AvgPaymentPerDayGbp:     round3(avgPaymentPerDay),
		},
		Assumptions: assumptions,
	}, true
}

func meanOf(regional []model.AnnualStats, field func(model.AnnualStats) float64) float64 {
	return lo.SumBy(regional, field) / float64(len(regional))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
