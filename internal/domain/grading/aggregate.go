package grading

import (
	"time"

	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/internal/domain/xapi"
)

// Grade is an aggregated gradebook grade: a raw value and the bounds it
// is reported against.
type Grade struct {
	Raw float64
	Min float64
	Max float64
}

// Aggregate reduces a fetched statement set to a gradebook grade under
// the given settings. It returns (nil, nil) when no grade can be
// computed: grading disabled, no statements, or no scored statement
// within the expiry window.
//
// The most recent scored statement defines the canonical (min, max)
// scale; statements on a different scale are excluded from averaging
// and best-selection because their raw values are not comparable.
//
// A percentage grade over a degenerate scale (max == 0) fails with
// shared.ErrInvalidScoreRange instead of propagating NaN or Inf.
func Aggregate(statements []xapi.Statement, settings Settings, now time.Time) (*Grade, error) {
	if settings.Type == GradeTypeNone || len(statements) == 0 {
		return nil, nil
	}

	cutoff := settings.ExpiryCutoff(now)

	// Pass/fail grading needs no scores, only evidence within the window.
	if settings.Type == GradeTypePassFail {
		if !anyWithinWindow(statements, cutoff) {
			return nil, nil
		}
		return &Grade{Raw: 100, Min: 0, Max: 100}, nil
	}

	scored, mostRecent := collectScored(statements, cutoff)
	if len(scored) == 0 {
		return nil, nil
	}

	ref := *mostRecent.ScoreValue()

	var raw float64
	switch settings.Aggregation {
	case AggregationMostRecent:
		raw = ref.Raw
	case AggregationAverage:
		var sum float64
		var n int
		for _, sc := range scored {
			if sc.SameScale(ref) {
				sum += sc.Raw
				n++
			}
		}
		raw = sum / float64(n) // n >= 1: ref itself is always compatible
	case AggregationBest:
		best := ref.Raw
		for _, sc := range scored {
			if sc.SameScale(ref) && sc.Raw > best {
				best = sc.Raw
			}
		}
		raw = best
	}

	switch settings.Type {
	case GradeTypePercentage:
		if ref.Max == 0 {
			return nil, shared.NewDomainError("grading", "Aggregate", shared.ErrInvalidScoreRange,
				"percentage grade over zero-max score scale")
		}
		pct := 100 * raw / ref.Max
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		return &Grade{Raw: pct, Min: 0, Max: 100}, nil
	default: // GradeTypeScored
		return &Grade{Raw: raw, Min: ref.Min, Max: ref.Max}, nil
	}
}

// collectScored filters statements to those carrying a score and, when
// a cutoff is set, falling inside the expiry window. It also identifies
// the most recent contributing statement by timestamp.
func collectScored(statements []xapi.Statement, cutoff *time.Time) ([]xapi.Score, *xapi.Statement) {
	var scores []xapi.Score
	var mostRecent *xapi.Statement

	for i := range statements {
		st := &statements[i]
		if st.ScoreValue() == nil {
			continue
		}
		if cutoff != nil && st.Timestamp.Before(*cutoff) {
			continue
		}
		scores = append(scores, *st.ScoreValue())
		if mostRecent == nil || st.Timestamp.After(mostRecent.Timestamp) {
			mostRecent = st
		}
	}

	return scores, mostRecent
}

// anyWithinWindow reports whether at least one statement falls inside
// the expiry window (or whether any exists, when no window is set).
func anyWithinWindow(statements []xapi.Statement, cutoff *time.Time) bool {
	if cutoff == nil {
		return len(statements) > 0
	}
	for _, st := range statements {
		if !st.Timestamp.Before(*cutoff) {
			return true
		}
	}
	return false
}
