package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/parkes-group/octopus/internal/pkg/model"
	"github.com/parkes-group/octopus/internal/pkg/uktime"
)

// publicationHourUK is when Octopus publishes the next day's Agile prices,
// give or take an hour. Once tomorrow's data is visible the cache can live
// until just past the next publication window, because nothing new arrives
// before then.
const publicationHourUK = 16

// DecideExpiry infers a cache expiry instant from the edge entries of a
// freshly fetched price series.
//
// Octopus returns series in reverse chronological order in practice, but the
// order is not contractual, so both edges are inspected and either may be
// the newest entry. If either edge's ValidTo falls on a UK date after
// today's, next-day prices have been published and the expiry is that later
// date at 16:00 UK time. Otherwise the second return is false and the
// caller must fall back to its short default TTL.
//
// Pure function of the two entries and nowUK; recomputed on every fetch. A
// single-entry series passes the same slot as both edges and degrades to a
// single-date check. Empty series are the caller's problem: guard before
// calling.
func DecideExpiry(first, last model.PriceSlot, nowUK time.Time) (time.Time, bool) {
	firstDate := uktime.DateOf(first.ValidTo)
	lastDate := uktime.DateOf(last.ValidTo)
	today := uktime.DateOf(nowUK)

	if !firstDate.After(today) && !lastDate.After(today) {
		zap.L().Debug("next-day prices not detected, using fallback expiry",
			zap.String("first_entry_date", firstDate.Format("2006-01-02")),
			zap.String("last_entry_date", lastDate.Format("2006-01-02")))
		return time.Time{}, false
	}

	// One edge may still be today's data; use the later date.
	tomorrow := firstDate
	if lastDate.After(tomorrow) {
		tomorrow = lastDate
	}
	expiry := uktime.At(tomorrow, publicationHourUK, 0)
	zap.L().Info("next-day publication detected",
		zap.String("first_entry_date", firstDate.Format("2006-01-02")),
		zap.String("last_entry_date", lastDate.Format("2006-01-02")),
		zap.Time("expires_at", expiry))
	return expiry, true
}
