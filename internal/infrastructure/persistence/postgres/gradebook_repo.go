package postgres

import (
	"context"
	"time"

	"github.com/tincanhub/tincan-launch/internal/domain/gradebook"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
)

// GradebookRepository persists aggregated grades.
type GradebookRepository struct {
	conn *Connection
}

// NewGradebookRepository creates a new repository.
func NewGradebookRepository(conn *Connection) *GradebookRepository {
	return &GradebookRepository{conn: conn}
}

// Upsert inserts or updates one learner's grade. A nil raw grade is
// stored as NULL, which the gradebook renders as "no grade yet" without
// discarding the min/max bounds.
func (r *GradebookRepository) Upsert(ctx context.Context, item gradebook.Item) error {
	_, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO grade_items (activity_id, user_id, raw_grade, grade_min, grade_max, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (activity_id, user_id) DO UPDATE SET
			raw_grade = EXCLUDED.raw_grade,
			grade_min = EXCLUDED.grade_min,
			grade_max = EXCLUDED.grade_max,
			updated_at = EXCLUDED.updated_at`,
		item.ActivityID, item.UserID, item.Raw, item.Min, item.Max, time.Now().UTC())
	if err != nil {
		return shared.WrapError("postgres", "Upsert", shared.ErrValidation, "upsert grade item", err)
	}
	return nil
}

// Reset clears all grades for an activity instance.
func (r *GradebookRepository) Reset(ctx context.Context, activityID int64) error {
	_, err := r.conn.Pool().Exec(ctx,
		"DELETE FROM grade_items WHERE activity_id = $1", activityID)
	if err != nil {
		return shared.WrapError("postgres", "Reset", shared.ErrValidation, "reset grade items", err)
	}
	return nil
}

// Get fetches one learner's stored grade, or (nil, nil) when absent.
func (r *GradebookRepository) Get(ctx context.Context, activityID, userID int64) (*gradebook.Item, error) {
	item := gradebook.Item{ActivityID: activityID, UserID: userID}
	err := r.conn.Pool().QueryRow(ctx, `
		SELECT raw_grade, grade_min, grade_max
		FROM grade_items WHERE activity_id = $1 AND user_id = $2`,
		activityID, userID,
	).Scan(&item.Raw, &item.Min, &item.Max)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, shared.WrapError("postgres", "Get", shared.ErrValidation, "scan grade item", err)
	}
	return &item, nil
}
