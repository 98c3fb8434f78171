// Package pricing finds lowest prices and cheapest charging blocks in
// half-hourly tariff series. All functions are pure and stateless over
// immutable slot values, so they are safe to call concurrently.
package pricing

import (
	"math"
	"slices"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/parkes-group/octopus/internal/pkg/model"
)

const (
	MinBlockHours = 0.5
	MaxBlockHours = 6.0
)

// SortByValidFrom returns a copy of slots sorted ascending by ValidFrom.
// Octopus returns series newest-first in practice but the order is not
// contractual, so every ordering-dependent function sorts defensively.
func SortByValidFrom(slots model.PriceSlots) model.PriceSlots {
	sorted := slices.Clone(slots)
	slices.SortFunc(sorted, func(a, b model.PriceSlot) int {
		return a.ValidFrom.Compare(b.ValidFrom)
	})
	return sorted
}

// LowestSlot returns the slot with the minimum ValueIncVat. Ties are broken
// by earliest ValidFrom. The second return is false on empty input.
func LowestSlot(slots model.PriceSlots) (model.PriceSlot, bool) {
	if len(slots) == 0 {
		return model.PriceSlot{}, false
	}
	lowest := lo.MinBy(slots, func(a, b model.PriceSlot) bool {
		if a.ValueIncVat != b.ValueIncVat {
			return a.ValueIncVat < b.ValueIncVat
		}
		return a.ValidFrom.Before(b.ValidFrom)
	})
	return lowest, true
}

// slotCount converts a block duration in hours to a half-hour slot count,
// e.g. 3.5h -> 7 slots.
func slotCount(durationHours float64) int {
	return int(math.Round(durationHours * 2))
}

// CheapestBlock finds the cheapest contiguous run of round(durationHours*2)
// slots. Slots are sorted ascending by ValidFrom first; contiguity is
// positional in the sorted sequence. A fixed-size sliding window with a
// running sum tracks the minimum-average window; the strict comparison means
// the earliest-starting window wins a tie. Negative and zero prices are
// handled identically to positive ones.
//
// Returns false when durationHours is below the half-hour minimum or the
// series has fewer slots than the window needs. Both are expected operating
// conditions, not errors.
func CheapestBlock(slots model.PriceSlots, durationHours float64) (model.Block, bool) {
	if len(slots) == 0 || durationHours < MinBlockHours {
		return model.Block{}, false
	}

	k := slotCount(durationHours)
	if len(slots) < k {
		zap.L().Warn("not enough price slots for requested block duration",
			zap.Int("slots", len(slots)),
			zap.Float64("duration_hours", durationHours),
			zap.Int("slots_needed", k))
		return model.Block{}, false
	}

	sorted := SortByValidFrom(slots)

	var sum float64
	for i := 0; i < k; i++ {
		sum += sorted[i].ValueIncVat
	}
	bestSum := sum
	bestStart := 0

	for i := k; i < len(sorted); i++ {
		sum += sorted[i].ValueIncVat - sorted[i-k].ValueIncVat
		if sum < bestSum {
			bestSum = sum
			bestStart = i - k + 1
		}
	}

	window := sorted[bestStart : bestStart+k]
	return model.Block{
		StartTime:    window[0].ValidFrom,
		EndTime:      window[k-1].ValidTo,
		AveragePrice: round2(bestSum / float64(k)),
		TotalCost:    round2(bestSum),
		Slots:        window,
	}, true
}

// CheapestRemainingBlock is CheapestBlock restricted to slots starting at or
// after now. Returns false when fewer than a full window of future slots
// remain, which the caller renders as "no remaining cheap block today".
func CheapestRemainingBlock(slots model.PriceSlots, durationHours float64, now time.Time) (model.Block, bool) {
	remaining := lo.Filter(slots, func(s model.PriceSlot, _ int) bool {
		return !s.ValidFrom.Before(now)
	})
	return CheapestBlock(remaining, durationHours)
}

// GroupByCalendarDay buckets slots by the local calendar date of ValidFrom in
// the given timezone, preserving within-bucket input order. Keys are
// YYYY-MM-DD date strings. A full UK day normally holds 48 slots; the two
// annual DST-transition days hold 46 or 50, which is expected.
//
// Callers computing day results must do so independently per bucket: a block
// never spans two calendar days even when the slots are positionally
// adjacent.
func GroupByCalendarDay(slots model.PriceSlots, loc *time.Location) map[string]model.PriceSlots {
	return lo.GroupBy(slots, func(s model.PriceSlot) string {
		return s.ValidFrom.In(loc).Format("2006-01-02")
	})
}

// DailyAverage returns the arithmetic mean of ValueIncVat over the given
// slots, expected to be one calendar day's bucket. False on empty input.
// No slot count is assumed: DST-short and DST-long days average over however
// many slots are present.
func DailyAverage(slots model.PriceSlots) (float64, bool) {
	if len(slots) == 0 {
		return 0, false
	}
	sum := lo.SumBy(slots, func(s model.PriceSlot) float64 {
		return s.ValueIncVat
	})
	return sum / float64(len(slots)), true
}

// EstimateChargingCost converts an average price in p/kWh and a battery
// capacity in kWh to a cost in pounds. False when either input is absent or
// negative; capacity range validation belongs to the caller.
func EstimateChargingCost(avgPricePPerKwh, capacityKwh float64) (float64, bool) {
	if avgPricePPerKwh <= 0 || capacityKwh <= 0 {
		return 0, false
	}
	return round2(avgPricePPerKwh * capacityKwh / 100), true
}

// AnalyzeDay computes one calendar day's derived outputs from that day's
// slot bucket. The remaining block considers only slots starting at or after
// now.
func AnalyzeDay(date string, slots model.PriceSlots, durationHours float64, now time.Time) model.DayResult {
	result := model.DayResult{
		Date:      date,
		SlotCount: len(slots),
	}
	if lowest, ok := LowestSlot(slots); ok {
		result.LowestSlot = &lowest
	}
	if block, ok := CheapestBlock(slots, durationHours); ok {
		result.CheapestBlock = &block
	}
	if block, ok := CheapestRemainingBlock(slots, durationHours, now); ok {
		result.RemainingBlock = &block
	}
	if avg, ok := DailyAverage(slots); ok {
		avg = round2(avg)
		result.DailyAverage = &avg
	}
	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
