// Package decay implements time-based score decay: a pure function
// of entry fields and current time, with no mutation. The same formula
// is used by the search ranker and by compact() to flag archive
// candidates.
package decay

import (
	"math"
	"time"

	"memstore/internal/entry"
)

// ArchiveThreshold is the decay value below which compact() proposes
// an entry for archival.
const ArchiveThreshold = 0.05

// typeMultiplier returns the per-type half-life multiplier from
// episodic=1, fact=1, preference=3, procedure=3,
// mistake=10.
func typeMultiplier(t entry.MemoryType) float64 {
	switch t {
	case entry.TypePreference, entry.TypeProcedure:
		return 3
	case entry.TypeMistake:
		return 10
	case entry.TypeEpisodic, entry.TypeFact:
		return 1
	default:
		return 1
	}
}

// EffectiveHalfLife returns half_life_base × type_multiplier(memory_type).
func EffectiveHalfLife(baseHalfLifeDays float64, t entry.MemoryType) float64 {
	return baseHalfLifeDays * typeMultiplier(t)
}

// Score computes decay(d) = 2^(−age_days(d) / half_life_effective(d))
// for an entry created at createdAt, evaluated at now, given the
// configured base half-life in days.
//
// age_days(d) <= 0 (including entries created in the future due to
// clock skew) yields decay 1.
func Score(createdAt, now time.Time, t entry.MemoryType, baseHalfLifeDays float64) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24

	if ageDays <= 0 {
		return 1
	}

	halfLife := EffectiveHalfLife(baseHalfLifeDays, t)
	if halfLife <= 0 {
		return 0
	}

	return math.Exp2(-ageDays / halfLife)
}

// IsArchiveCandidate reports whether an entry's decay has fallen below
// ArchiveThreshold and should be proposed (not removed) for archival
// by compact().
func IsArchiveCandidate(createdAt, now time.Time, t entry.MemoryType, baseHalfLifeDays float64) bool {
	return Score(createdAt, now, t, baseHalfLifeDays) < ArchiveThreshold
}
