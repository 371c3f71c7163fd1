// Package activity contains the launch-activity aggregate: one LMS
// course module instance pointing at an external Tin Can experience,
// together with its completion, grading and LRS configuration.
package activity

import (
	"context"
	"strings"
	"time"

	"github.com/tincanhub/tincan-launch/internal/domain/grading"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
)

// LaunchActivity is a course module instance of this plugin.
type LaunchActivity struct {
	// ID is the instance id.
	ID int64

	// CourseID is the owning course.
	CourseID int64

	// Name is the instance display name.
	Name string

	// ActivityIRI is the xAPI activity id the external content reports
	// statements against.
	ActivityIRI string

	// LaunchURL is the URL of the external content to launch.
	LaunchURL string

	// CompletionVerb is the verb IRI that marks the activity completed.
	// Empty means completion tracking is not configured.
	CompletionVerb string

	// Grading is the per-activity grading configuration.
	Grading grading.Settings

	// OverrideDefaults selects the per-activity LRS settings row over
	// the global defaults.
	OverrideDefaults bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the invariants required before persisting an instance.
func (a *LaunchActivity) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return shared.NewDomainError("activity", "Validate", shared.ErrEmptyValue, "name is required")
	}
	if strings.TrimSpace(a.ActivityIRI) == "" {
		return shared.NewDomainError("activity", "Validate", shared.ErrEmptyValue, "activity IRI is required")
	}
	if strings.TrimSpace(a.LaunchURL) == "" {
		return shared.NewDomainError("activity", "Validate", shared.ErrEmptyValue, "launch URL is required")
	}
	if a.Grading.ExpiryDays < 0 {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidInput, "expiry days cannot be negative")
	}
	return nil
}

// TracksCompletion reports whether a completion verb is configured.
func (a *LaunchActivity) TracksCompletion() bool {
	return strings.TrimSpace(a.CompletionVerb) != ""
}

// Graded reports whether grading is enabled for this instance.
func (a *LaunchActivity) Graded() bool {
	return a.Grading.Type != grading.GradeTypeNone
}

// LRSSettings is the fully resolved LRS configuration for one
// operation: endpoint, credentials and identity strategy. It is always
// passed as an explicit parameter, never cached globally.
type LRSSettings struct {
	// Endpoint is the LRS xAPI base URL (e.g. "https://lrs.example.com/xapi").
	Endpoint string

	// Username and Password are the HTTP Basic credentials.
	Username string
	Password string

	// Version is the xAPI version header value.
	Version string

	// CustomAccountHomePage, when set, switches actor identities to
	// account form against this home page.
	CustomAccountHomePage string

	// UseEmailIdentity allows mbox actor identities.
	UseEmailIdentity bool
}

// Override is the per-activity LRS settings row, applied when the
// instance has OverrideDefaults set. Credentials are stored sealed and
// arrive here already opened by the repository.
type Override struct {
	ActivityID            int64
	Endpoint              string
	Username              string
	Password              string
	CustomAccountHomePage string
	UseEmailIdentity      bool
}

// ResolveLRSSettings returns the effective LRS settings for an
// instance: the override row when the instance opts out of defaults
// and a row exists, the global defaults otherwise. The xAPI version is
// pinned regardless of source.
func ResolveLRSSettings(a *LaunchActivity, ov *Override, defaults LRSSettings) LRSSettings {
	s := defaults
	if a.OverrideDefaults && ov != nil {
		s.Endpoint = ov.Endpoint
		s.Username = ov.Username
		s.Password = ov.Password
		s.CustomAccountHomePage = ov.CustomAccountHomePage
		s.UseEmailIdentity = ov.UseEmailIdentity
	}
	if s.Version == "" {
		s.Version = "1.0.0"
	}
	return s
}

// Repository provides persistence for launch activities and their LRS
// overrides. The backing store is the host LMS database.
type Repository interface {
	// GetByID fetches a single instance.
	GetByID(ctx context.Context, id int64) (*LaunchActivity, error)

	// List returns all instances, ordered by id. Used by the scheduled
	// grade sweep.
	List(ctx context.Context) ([]*LaunchActivity, error)

	// Create inserts a new instance and assigns its ID.
	Create(ctx context.Context, a *LaunchActivity) error

	// Update persists changes to an existing instance.
	Update(ctx context.Context, a *LaunchActivity) error

	// Delete removes an instance together with its override row.
	Delete(ctx context.Context, id int64) error

	// GetOverride fetches the per-activity LRS settings row, or
	// (nil, nil) when none exists.
	GetOverride(ctx context.Context, activityID int64) (*Override, error)

	// PutOverride inserts or updates the per-activity LRS settings row.
	PutOverride(ctx context.Context, ov *Override) error
}
