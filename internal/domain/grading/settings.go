// Package grading reduces fetched statement sets into completion states
// and gradebook grades. All functions here are pure: statements in,
// verdict out. Statements are fetched fresh per operation and settings
// are passed explicitly; nothing in this package caches.
package grading

import (
	"time"
)

// GradeType selects how an aggregated raw score maps onto a gradebook grade.
type GradeType int

const (
	// GradeTypeNone disables grading for the activity.
	GradeTypeNone GradeType = iota

	// GradeTypePassFail awards full marks when completion evidence
	// exists within the expiry window, nothing otherwise.
	GradeTypePassFail

	// GradeTypeScored reports the aggregated raw score with its
	// original min/max bounds.
	GradeTypeScored

	// GradeTypePercentage reports 100*raw/max clamped to [0,100].
	GradeTypePercentage
)

// String returns the lowercase name of the grade type.
func (t GradeType) String() string {
	switch t {
	case GradeTypeNone:
		return "none"
	case GradeTypePassFail:
		return "pass_fail"
	case GradeTypeScored:
		return "scored"
	case GradeTypePercentage:
		return "percentage"
	default:
		return "unknown"
	}
}

// ParseGradeType maps a stored name back to a GradeType. Unknown values
// fall back to GradeTypeNone.
func ParseGradeType(s string) GradeType {
	switch s {
	case "pass_fail":
		return GradeTypePassFail
	case "scored":
		return GradeTypeScored
	case "percentage":
		return GradeTypePercentage
	default:
		return GradeTypeNone
	}
}

// Aggregation selects how multiple scored statements combine into one raw score.
type Aggregation int

const (
	// AggregationMostRecent takes the newest statement's score.
	AggregationMostRecent Aggregation = iota

	// AggregationAverage takes the mean of scale-compatible scores.
	AggregationAverage

	// AggregationBest takes the maximum of scale-compatible scores.
	AggregationBest
)

// String returns the lowercase name of the aggregation method.
func (a Aggregation) String() string {
	switch a {
	case AggregationMostRecent:
		return "most_recent"
	case AggregationAverage:
		return "average"
	case AggregationBest:
		return "best"
	default:
		return "unknown"
	}
}

// ParseAggregation maps a stored name back to an Aggregation. Unknown
// values fall back to AggregationMostRecent.
func ParseAggregation(s string) Aggregation {
	switch s {
	case "average":
		return AggregationAverage
	case "best":
		return AggregationBest
	default:
		return AggregationMostRecent
	}
}

// Settings is the per-activity grading configuration, resolved by the
// caller and passed explicitly into every reduction.
type Settings struct {
	// Type selects the gradebook mapping.
	Type GradeType

	// Aggregation selects the combination method for scored statements.
	Aggregation Aggregation

	// ExpiryDays is the completion/grade validity window in days.
	// Zero means no expiry.
	ExpiryDays int
}

// ExpiryCutoff returns the instant before which statements count as
// expired, or nil when no expiry window is configured.
func (s Settings) ExpiryCutoff(now time.Time) *time.Time {
	if s.ExpiryDays <= 0 {
		return nil
	}
	cutoff := now.AddDate(0, 0, -s.ExpiryDays)
	return &cutoff
}
