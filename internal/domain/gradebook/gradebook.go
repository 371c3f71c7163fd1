// Package gradebook is the host-side grade store this service writes
// aggregated grades into.
package gradebook

import (
	"context"
)

// Item is one learner's grade for one activity instance. A nil Raw
// preserves any existing grade (grades are never nulled implicitly).
type Item struct {
	ActivityID int64
	UserID     int64
	Raw        *float64
	Min        float64
	Max        float64
}

// Repository persists gradebook items.
type Repository interface {
	// Upsert inserts or updates one learner's grade.
	Upsert(ctx context.Context, item Item) error

	// Reset clears all grades for an activity instance. Used when the
	// instance is deleted or its grading is reconfigured.
	Reset(ctx context.Context, activityID int64) error
}
