package postgres

import (
	"context"
	"time"

	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/domain/grading"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/pkg/secrets"
)

// ActivityRepository persists launch activity instances and their LRS
// overrides. Override passwords are sealed before they touch the
// database and opened on the way out.
type ActivityRepository struct {
	conn *Connection
	box  *secrets.Box
}

// NewActivityRepository creates a new repository. The box seals stored
// LRS credentials; it may be nil only when overrides are never used.
func NewActivityRepository(conn *Connection, box *secrets.Box) *ActivityRepository {
	return &ActivityRepository{conn: conn, box: box}
}

const activityColumns = `
	id, course_id, name, activity_iri, launch_url, completion_verb,
	grade_type, grade_aggregation, expiry_days, override_defaults,
	created_at, updated_at`

// GetByID fetches a single instance.
func (r *ActivityRepository) GetByID(ctx context.Context, id int64) (*activity.LaunchActivity, error) {
	row := r.conn.Pool().QueryRow(ctx,
		"SELECT"+activityColumns+" FROM activities WHERE id = $1", id)

	act, err := scanActivity(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("postgres", "GetByID", shared.ErrNotFound, "activity not found")
		}
		return nil, shared.WrapError("postgres", "GetByID", shared.ErrValidation, "scan activity", err)
	}
	return act, nil
}

// List returns all instances ordered by id.
func (r *ActivityRepository) List(ctx context.Context) ([]*activity.LaunchActivity, error) {
	rows, err := r.conn.Pool().Query(ctx,
		"SELECT"+activityColumns+" FROM activities ORDER BY id")
	if err != nil {
		return nil, shared.WrapError("postgres", "List", shared.ErrValidation, "query activities", err)
	}
	defer rows.Close()

	var activities []*activity.LaunchActivity
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, shared.WrapError("postgres", "List", shared.ErrValidation, "scan activity", err)
		}
		activities = append(activities, act)
	}
	return activities, rows.Err()
}

// Create inserts a new instance and assigns its ID.
func (r *ActivityRepository) Create(ctx context.Context, a *activity.LaunchActivity) error {
	now := time.Now().UTC()
	err := r.conn.Pool().QueryRow(ctx, `
		INSERT INTO activities (
			course_id, name, activity_iri, launch_url, completion_verb,
			grade_type, grade_aggregation, expiry_days, override_defaults,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id`,
		a.CourseID, a.Name, a.ActivityIRI, a.LaunchURL, a.CompletionVerb,
		a.Grading.Type.String(), a.Grading.Aggregation.String(), a.Grading.ExpiryDays,
		a.OverrideDefaults, now,
	).Scan(&a.ID)
	if err != nil {
		return shared.WrapError("postgres", "Create", shared.ErrValidation, "insert activity", err)
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// Update persists changes to an existing instance.
func (r *ActivityRepository) Update(ctx context.Context, a *activity.LaunchActivity) error {
	now := time.Now().UTC()
	tag, err := r.conn.Pool().Exec(ctx, `
		UPDATE activities SET
			course_id = $2, name = $3, activity_iri = $4, launch_url = $5,
			completion_verb = $6, grade_type = $7, grade_aggregation = $8,
			expiry_days = $9, override_defaults = $10, updated_at = $11
		WHERE id = $1`,
		a.ID, a.CourseID, a.Name, a.ActivityIRI, a.LaunchURL, a.CompletionVerb,
		a.Grading.Type.String(), a.Grading.Aggregation.String(), a.Grading.ExpiryDays,
		a.OverrideDefaults, now)
	if err != nil {
		return shared.WrapError("postgres", "Update", shared.ErrValidation, "update activity", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("postgres", "Update", shared.ErrNotFound, "activity not found")
	}
	a.UpdatedAt = now
	return nil
}

// Delete removes an instance; the override row goes with it via cascade.
func (r *ActivityRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn.Pool().Exec(ctx, "DELETE FROM activities WHERE id = $1", id)
	if err != nil {
		return shared.WrapError("postgres", "Delete", shared.ErrValidation, "delete activity", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("postgres", "Delete", shared.ErrNotFound, "activity not found")
	}
	return nil
}

// GetOverride fetches the per-activity LRS settings row, opening the
// sealed password. Returns (nil, nil) when no row exists.
func (r *ActivityRepository) GetOverride(ctx context.Context, activityID int64) (*activity.Override, error) {
	var ov activity.Override
	var sealed string
	err := r.conn.Pool().QueryRow(ctx, `
		SELECT activity_id, endpoint, username, password_sealed,
		       custom_account_home_page, use_email_identity
		FROM activity_lrs_overrides WHERE activity_id = $1`, activityID,
	).Scan(&ov.ActivityID, &ov.Endpoint, &ov.Username, &sealed,
		&ov.CustomAccountHomePage, &ov.UseEmailIdentity)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, shared.WrapError("postgres", "GetOverride", shared.ErrValidation, "scan override", err)
	}

	if sealed != "" {
		if r.box == nil {
			return nil, shared.NewDomainError("postgres", "GetOverride", shared.ErrValidation,
				"sealed credentials present but no secrets key configured")
		}
		ov.Password, err = r.box.Open(sealed)
		if err != nil {
			return nil, shared.WrapError("postgres", "GetOverride", shared.ErrValidation, "open sealed password", err)
		}
	}
	return &ov, nil
}

// PutOverride inserts or updates the per-activity LRS settings row,
// sealing the password at rest.
func (r *ActivityRepository) PutOverride(ctx context.Context, ov *activity.Override) error {
	sealed := ""
	if ov.Password != "" {
		if r.box == nil {
			return shared.NewDomainError("postgres", "PutOverride", shared.ErrValidation,
				"no secrets key configured for sealing credentials")
		}
		var err error
		sealed, err = r.box.Seal(ov.Password)
		if err != nil {
			return shared.WrapError("postgres", "PutOverride", shared.ErrValidation, "seal password", err)
		}
	}

	_, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO activity_lrs_overrides (
			activity_id, endpoint, username, password_sealed,
			custom_account_home_page, use_email_identity
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (activity_id) DO UPDATE SET
			endpoint = EXCLUDED.endpoint,
			username = EXCLUDED.username,
			password_sealed = EXCLUDED.password_sealed,
			custom_account_home_page = EXCLUDED.custom_account_home_page,
			use_email_identity = EXCLUDED.use_email_identity`,
		ov.ActivityID, ov.Endpoint, ov.Username, sealed,
		ov.CustomAccountHomePage, ov.UseEmailIdentity)
	if err != nil {
		return shared.WrapError("postgres", "PutOverride", shared.ErrValidation, "upsert override", err)
	}
	return nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (*activity.LaunchActivity, error) {
	var a activity.LaunchActivity
	var gradeType, aggregation string
	err := row.Scan(
		&a.ID, &a.CourseID, &a.Name, &a.ActivityIRI, &a.LaunchURL, &a.CompletionVerb,
		&gradeType, &aggregation, &a.Grading.ExpiryDays, &a.OverrideDefaults,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Grading.Type = grading.ParseGradeType(gradeType)
	a.Grading.Aggregation = grading.ParseAggregation(aggregation)
	return &a, nil
}
