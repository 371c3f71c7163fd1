// Package query contains read operations (CQRS - Queries).
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
// LRS ACCESS
// ══════════════════════════════════════════════════════════════════════════════

// StatementReader is the slice of the LRS client queries need.
type StatementReader interface {
	// FetchAllStatements follows the continuation chain and returns the
	// complete statement set, or an error if any page fails.
	FetchAllStatements(ctx context.Context, q xapi.StatementQuery) ([]xapi.Statement, error)
}

// ReaderFactory builds a reader for freshly resolved settings. A new
// reader is obtained per operation so that settings changes take effect
// immediately.
type ReaderFactory func(settings activity.LRSSettings) (StatementReader, error)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK COMPLETION QUERY
// ══════════════════════════════════════════════════════════════════════════════

// CheckCompletionQuery asks whether a learner has completed an activity
// according to the live LRS record.
type CheckCompletionQuery struct {
	// ActivityID is the launch activity instance.
	ActivityID int64

	// UserID is the learner.
	UserID int64

	// Now anchors the expiry window; zero means current time.
	Now time.Time
}

// Validate checks the query parameters.
func (q *CheckCompletionQuery) Validate() error {
	if q.ActivityID <= 0 {
		return shared.NewDomainError("query", "CheckCompletion", shared.ErrInvalidInput, "activity id is required")
	}
	if q.UserID <= 0 {
		return shared.NewDomainError("query", "CheckCompletion", shared.ErrInvalidInput, "user id is required")
	}
	if q.Now.IsZero() {
		q.Now = time.Now().UTC()
	}
	return nil
}

// CheckCompletionResult is the completion verdict.
type CheckCompletionResult struct {
	Completed bool `json:"completed"`

	// Statements is how many matching statements the LRS returned.
	Statements int `json:"statements"`

	// CheckedAt is when the verdict was produced.
	CheckedAt time.Time `json:"checked_at"`
}

// CheckCompletionHandler answers completion queries.
type CheckCompletionHandler struct {
	activityRepo activity.Repository
	userRepo     user.Repository
	defaults     activity.LRSSettings
	instanceURL  string
	readers      ReaderFactory
}

// NewCheckCompletionHandler creates a new handler.
func NewCheckCompletionHandler(
	activityRepo activity.Repository,
	userRepo user.Repository,
	defaults activity.LRSSettings,
	instanceURL string,
	readers ReaderFactory,
) *CheckCompletionHandler {
	return &CheckCompletionHandler{
		activityRepo: activityRepo,
		userRepo:     userRepo,
		defaults:     defaults,
		instanceURL:  instanceURL,
		readers:      readers,
	}
}

// Handle resolves the activity's settings and learner identity, fetches
// the completion-verb statements and reduces them to a verdict.
//
// An activity without a completion verb yields shared.ErrNotApplicable,
// which callers treat as "nothing to check", not as a failure. Any LRS
// failure aborts the check; the previous verdict stays in force.
func (h *CheckCompletionHandler) Handle(ctx context.Context, query CheckCompletionQuery) (*CheckCompletionResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	act, err := h.activityRepo.GetByID(ctx, query.ActivityID)
	if err != nil {
		return nil, shared.WrapError("query", "CheckCompletion", shared.ErrNotFound, "activity not found", err)
	}

	if !act.TracksCompletion() {
		return nil, shared.NewDomainError("query", "CheckCompletion", shared.ErrNotApplicable,
			"no completion verb configured")
	}

	u, err := h.userRepo.GetByID(ctx, query.UserID)
	if err != nil {
		return nil, shared.WrapError("query", "CheckCompletion", shared.ErrNotFound, "user not found", err)
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

	// The expiry cutoff doubles as the query lower bound: statements
	// older than the window cannot contribute to the verdict, so they
	// are not fetched at all.
	cutoff := act.Grading.ExpiryCutoff(query.Now)

	statements, err := reader.FetchAllStatements(ctx, xapi.StatementQuery{
		ActivityIRI: act.ActivityIRI,
		VerbIRI:     act.CompletionVerb,
		Agent:       actor,
		Since:       cutoff,
	})
	if err != nil {
		return nil, err
	}

	return &CheckCompletionResult{
		Completed:  grading.EvaluateCompletion(statements, cutoff),
		Statements: len(statements),
		CheckedAt:  query.Now,
	}, nil
}

func (h *CheckCompletionHandler) resolveSettings(ctx context.Context, act *activity.LaunchActivity) (activity.LRSSettings, error) {
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
