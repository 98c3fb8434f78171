// Package ytd keeps the raw year price files current with incremental
// fetches. The job is safe to re-run: updates are deduped, stably ordered
// and validated before anything is persisted.
package ytd

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/parkes-group/octopus/internal/pkg/model"
	"github.com/parkes-group/octopus/internal/pkg/pricing"
	"github.com/parkes-group/octopus/internal/pkg/uktime"
)

// FetchPlan is an incremental fetch window for one region's raw year file.
type FetchPlan struct {
	Region     string
	PeriodFrom time.Time // inclusive, UTC
	PeriodTo   time.Time // exclusive, UTC
	Reason     string
}

// pricesIncludeTomorrow reports whether the series already covers tomorrow
// in UK-local terms, checking only the edge entries. ValidFrom decides which
// day a slot belongs to: a today-only dataset ends at 00:00 tomorrow, but
// its final slot still starts at 23:30 today.
func pricesIncludeTomorrow(prices model.PriceSlots, nowUK time.Time) bool {
	if len(prices) == 0 {
		return false
	}
	today := uktime.DateOf(nowUK)
	first := uktime.DateOf(prices[0].ValidFrom)
	last := uktime.DateOf(prices[len(prices)-1].ValidFrom)
	return first.After(today) || last.After(today)
}

// latestValidTo returns the latest ValidTo in the series, defensively
// scanning the whole slice rather than trusting its order.
func latestValidTo(prices model.PriceSlots) (time.Time, bool) {
	if len(prices) == 0 {
		return time.Time{}, false
	}
	latest := lo.MaxBy(prices, func(a, b model.PriceSlot) bool {
		return a.ValidTo.After(b.ValidTo)
	})
	return latest.ValidTo, true
}

// DetermineFetchPlan decides the incremental Octopus fetch window for a
// region's raw year update. Nil means the data already covers tomorrow and
// no fetch is needed. Otherwise the window runs from the latest known
// ValidTo (or the start of today's UK day when there is no data) through the
// end of tomorrow's UK day, exclusive.
func DetermineFetchPlan(region string, existing model.PriceSlots, nowUK time.Time) *FetchPlan {
	nowUK = uktime.ToUK(nowUK)
	today := uktime.DateOf(nowUK)
	tomorrow := today.AddDate(0, 0, 1)
	periodTo := uktime.EndOfDayExclusiveUTC(tomorrow)

	if pricesIncludeTomorrow(existing, nowUK) {
		return nil
	}

	lastTo, ok := latestValidTo(existing)
	if !ok {
		return &FetchPlan{
			Region:     region,
			PeriodFrom: today.UTC(),
			PeriodTo:   periodTo,
			Reason:     "no_existing_data_fetch_today_and_tomorrow",
		}
	}

	if !uktime.DateOf(lastTo).After(today.AddDate(0, 0, -2)) {
		return &FetchPlan{
			Region:     region,
			PeriodFrom: lastTo.UTC(),
			PeriodTo:   periodTo,
			Reason:     "gap_fetch_from_last_to_through_tomorrow",
		}
	}

	return &FetchPlan{
		Region:     region,
		PeriodFrom: lastTo.UTC(),
		PeriodTo:   periodTo,
		Reason:     "covers_today_fetch_today_and_tomorrow",
	}
}

// DedupeSort de-duplicates by ValidFrom and returns the series sorted
// ascending. The last occurrence wins, so appending a fresh fetch after the
// stored series lets corrected upstream prices replace stale ones.
func DedupeSort(prices model.PriceSlots) model.PriceSlots {
	byFrom := make(map[int64]model.PriceSlot, len(prices))
	for _, s := range prices {
		byFrom[s.ValidFrom.Unix()] = s
	}
	return pricing.SortByValidFrom(lo.Values(byFrom))
}

// ValidateSeries checks that a series is strictly increasing, contiguous in
// 30-minute steps and free of duplicate ValidFrom timestamps. It returns a
// list of findings and never aborts; callers decide whether findings are
// fatal.
func ValidateSeries(prices model.PriceSlots) []string {
	var findings []string
	if len(prices) == 0 {
		return findings
	}

	sorted := pricing.SortByValidFrom(prices)
	seen := make(map[int64]struct{}, len(sorted))
	var prevFrom, prevTo time.Time

	for i, slot := range sorted {
		key := slot.ValidFrom.Unix()
		if _, dup := seen[key]; dup {
			findings = append(findings, fmt.Sprintf("duplicate valid_from %s", slot.ValidFrom.Format(time.RFC3339)))
		}
		seen[key] = struct{}{}

		if !slot.ValidTo.After(slot.ValidFrom) {
			findings = append(findings, fmt.Sprintf("invalid interval %s -> %s",
				slot.ValidFrom.Format(time.RFC3339), slot.ValidTo.Format(time.RFC3339)))
		}
		if i > 0 && !slot.ValidFrom.After(prevFrom) {
			findings = append(findings, fmt.Sprintf("backwards or equal time at %s", slot.ValidFrom.Format(time.RFC3339)))
		}
		if i > 0 && !slot.ValidFrom.Equal(prevTo) {
			delta := slot.ValidFrom.Sub(prevTo).Minutes()
			findings = append(findings, fmt.Sprintf("gap or overlap between %s and %s (delta_minutes=%.1f)",
				prevTo.Format(time.RFC3339), slot.ValidFrom.Format(time.RFC3339), delta))
		}
		if dur := slot.ValidTo.Sub(slot.ValidFrom); dur != 30*time.Minute {
			findings = append(findings, fmt.Sprintf("unexpected slot duration %s -> %s (%s)",
				slot.ValidFrom.Format(time.RFC3339), slot.ValidTo.Format(time.RFC3339), dur))
		}

		prevFrom = slot.ValidFrom
		prevTo = slot.ValidTo
	}
	return findings
}

// ExpectedSlotCount is the number of 30-minute slots in [from, to) when
// perfectly aligned.
func ExpectedSlotCount(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from).Minutes() / 30)
}

// IsSlotCountReasonable reports whether an actual slot count is plausible
// for an expected one, allowing a little slack at the window boundaries.
func IsSlotCountReasonable(actual, expected, boundarySlack int) bool {
	if expected <= 0 {
		return actual == 0
	}
	return actual >= expected-boundarySlack && actual <= expected+boundarySlack
}
