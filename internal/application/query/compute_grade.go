package query

import (
	"context"
	"time"

	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/domain/grading"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/internal/domain/user"
	"github.com/tincanhub/tincan-launch/internal/domain/xapi"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPUTE GRADE QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ComputeGradeQuery asks for a learner's aggregated grade on an
// activity, derived from the live LRS record.
type ComputeGradeQuery struct {
	// ActivityID is the launch activity instance.
	ActivityID int64

	// UserID is the learner.
	UserID int64

	// Now anchors the expiry window; zero means current time.
	Now time.Time
}

// Validate checks the query parameters.
func (q *ComputeGradeQuery) Validate() error {
	if q.ActivityID <= 0 {
		return shared.NewDomainError("query", "ComputeGrade", shared.ErrInvalidInput, "activity id is required")
	}
	if q.UserID <= 0 {
		return shared.NewDomainError("query", "ComputeGrade", shared.ErrInvalidInput, "user id is required")
	}
	if q.Now.IsZero() {
		q.Now = time.Now().UTC()
	}
	return nil
}

// ComputeGradeResult carries the aggregated grade. A nil Grade means no
// grade could be derived; any existing gradebook entry stays untouched.
type ComputeGradeResult struct {
	Grade *grading.Grade `json:"grade,omitempty"`

	// Statements is how many matching statements the LRS returned.
	Statements int `json:"statements"`

	// ComputedAt is when the grade was derived.
	ComputedAt time.Time `json:"computed_at"`
}

// ComputeGradeHandler answers grade queries.
type ComputeGradeHandler struct {
	activityRepo activity.Repository
	userRepo     user.Repository
	defaults     activity.LRSSettings
	instanceURL  string
	readers      ReaderFactory
}

// NewComputeGradeHandler creates a new handler.
func NewComputeGradeHandler(
	activityRepo activity.Repository,
	userRepo user.Repository,
	defaults activity.LRSSettings,
	instanceURL string,
	readers ReaderFactory,
) *ComputeGradeHandler {
	return &ComputeGradeHandler{
		activityRepo: activityRepo,
		userRepo:     userRepo,
		defaults:     defaults,
		instanceURL:  instanceURL,
		readers:      readers,
	}
}

// Handle fetches the learner's statements for the activity and reduces
// them to a grade under the activity's grading settings.
//
// Grading disabled yields shared.ErrNotApplicable. The fetch is not
// bounded by the expiry window: aggregation needs the full record to
// pick the canonical scale, and applies the window itself.
func (h *ComputeGradeHandler) Handle(ctx context.Context, query ComputeGradeQuery) (*ComputeGradeResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	act, err := h.activityRepo.GetByID(ctx, query.ActivityID)
	if err != nil {
		return nil, shared.WrapError("query", "ComputeGrade", shared.ErrNotFound, "activity not found", err)
	}

	if !act.Graded() {
		return nil, shared.NewDomainError("query", "ComputeGrade", shared.ErrNotApplicable,
			"grading disabled")
	}

	u, err := h.userRepo.GetByID(ctx, query.UserID)
	if err != nil {
		return nil, shared.WrapError("query", "ComputeGrade", shared.ErrNotFound, "user not found", err)
	}

	settings, err := h.resolveSettings(ctx, act)
	if err != nil {
		return nil, err
	}

	actor := xapi.ResolveActor(u, xapi.IdentitySource{
		CustomAccountHomePage: settings.CustomAccountHomePage,
		UseEmailIdentity:      settings.UseEmailIdentity,
		InstanceHomePage:      h.instanceURL,
	})

	reader, err := h.readers(settings)
	if err != nil {
		return nil, err
	}

	statements, err := reader.FetchAllStatements(ctx, xapi.StatementQuery{
		ActivityIRI: act.ActivityIRI,
		VerbIRI:     act.CompletionVerb,
		Agent:       actor,
	})
	if err != nil {
		return nil, err
	}

	grade, err := grading.Aggregate(statements, act.Grading, query.Now)
	if err != nil {
		return nil, err
	}

	return &ComputeGradeResult{
		Grade:      grade,
		Statements: len(statements),
		ComputedAt: query.Now,
	}, nil
}

func (h *ComputeGradeHandler) resolveSettings(ctx context.Context, act *activity.LaunchActivity) (activity.LRSSettings, error) {
	var ov *activity.Override
	if act.OverrideDefaults {
		var err error
		ov, err = h.activityRepo.GetOverride(ctx, act.ID)
		if err != nil {
			return activity.LRSSettings{}, shared.WrapError("query", "resolveSettings", shared.ErrNotFound,
				"lrs override lookup failed", err)
		}
	}
	return activity.ResolveLRSSettings(act, ov, h.defaults), nil
}
