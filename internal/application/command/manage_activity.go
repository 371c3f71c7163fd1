package command

import (
	"context"
	"strings"
	"time"

	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/domain/gradebook"
	"github.com/tincanhub/tincan-launch/internal/domain/grading"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY MANAGEMENT COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// OverrideInput carries per-activity LRS settings submitted with a
// create or update. The password arrives in the clear here; the
// repository seals it before storage.
type OverrideInput struct {
	Endpoint              string `json:"endpoint"`
	Username              string `json:"username"`
	Password              string `json:"password"`
	CustomAccountHomePage string `json:"custom_account_home_page"`
	UseEmailIdentity      bool   `json:"use_email_identity"`
}

// Validate checks the override fields.
func (o *OverrideInput) Validate() error {
	if strings.TrimSpace(o.Endpoint) == "" {
		return shared.NewDomainError("command", "Override", shared.ErrEmptyValue, "override endpoint is required")
	}
	return nil
}

// CreateActivityCommand creates a new launch activity instance.
type CreateActivityCommand struct {
	CourseID       int64  `json:"course_id"`
	Name           string `json:"name"`
	ActivityIRI    string `json:"activity_iri"`
	LaunchURL      string `json:"launch_url"`
	CompletionVerb string `json:"completion_verb"`

	GradeType   string `json:"grade_type"`
	Aggregation string `json:"aggregation"`
	ExpiryDays  int    `json:"expiry_days"`

	// Override, when set, stores per-activity LRS settings and marks the
	// instance as overriding the global defaults.
	Override *OverrideInput `json:"override,omitempty"`
}

// Validate checks the command parameters.
func (c *CreateActivityCommand) Validate() error {
	if c.CourseID <= 0 {
		return shared.NewDomainError("command", "CreateActivity", shared.ErrInvalidInput, "course id is required")
	}
	if c.Override != nil {
		if err := c.Override.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// UpdateActivityCommand reconfigures an existing instance.
type UpdateActivityCommand struct {
	ActivityID     int64  `json:"activity_id"`
	Name           string `json:"name"`
	ActivityIRI    string `json:"activity_iri"`
	LaunchURL      string `json:"launch_url"`
	CompletionVerb string `json:"completion_verb"`

	GradeType   string `json:"grade_type"`
	Aggregation string `json:"aggregation"`
	ExpiryDays  int    `json:"expiry_days"`

	Override *OverrideInput `json:"override,omitempty"`
}

// Validate checks the command parameters.
func (c *UpdateActivityCommand) Validate() error {
	if c.ActivityID <= 0 {
		return shared.NewDomainError("command", "UpdateActivity", shared.ErrInvalidInput, "activity id is required")
	}
	if c.Override != nil {
		if err := c.Override.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteActivityCommand removes an instance.
type DeleteActivityCommand struct {
	ActivityID int64 `json:"activity_id"`
}

// Validate checks the command parameters.
func (c *DeleteActivityCommand) Validate() error {
	if c.ActivityID <= 0 {
		return shared.NewDomainError("command", "DeleteActivity", shared.ErrInvalidInput, "activity id is required")
	}
	return nil
}

// ManageActivityHandler executes instance lifecycle commands.
type ManageActivityHandler struct {
	activityRepo activity.Repository
	gradebook    gradebook.Repository
}

// NewManageActivityHandler creates a new handler.
func NewManageActivityHandler(activityRepo activity.Repository, gradebookRepo gradebook.Repository) *ManageActivityHandler {
	return &ManageActivityHandler{
		activityRepo: activityRepo,
		gradebook:    gradebookRepo,
	}
}

// HandleCreate creates the instance and, when an override was submitted,
// its LRS settings row.
func (h *ManageActivityHandler) HandleCreate(ctx context.Context, cmd CreateActivityCommand) (*activity.LaunchActivity, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	act := &activity.LaunchActivity{
		CourseID:         cmd.CourseID,
		Name:             strings.TrimSpace(cmd.Name),
		ActivityIRI:      strings.TrimSpace(cmd.ActivityIRI),
		LaunchURL:        strings.TrimSpace(cmd.LaunchURL),
		CompletionVerb:   strings.TrimSpace(cmd.CompletionVerb),
		OverrideDefaults: cmd.Override != nil,
		Grading: grading.Settings{
			Type:        grading.ParseGradeType(cmd.GradeType),
			Aggregation: grading.ParseAggregation(cmd.Aggregation),
			ExpiryDays:  cmd.ExpiryDays,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := act.Validate(); err != nil {
		return nil, err
	}

	if err := h.activityRepo.Create(ctx, act); err != nil {
		return nil, err
	}

	if cmd.Override != nil {
		if err := h.putOverride(ctx, act.ID, cmd.Override); err != nil {
			return nil, err
		}
	}
	return act, nil
}

// HandleUpdate reconfigures the instance. Changing the grading
// configuration clears the stored grades; the next sweep rebuilds them
// under the new rules from the full LRS record.
func (h *ManageActivityHandler) HandleUpdate(ctx context.Context, cmd UpdateActivityCommand) (*activity.LaunchActivity, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	act, err := h.activityRepo.GetByID(ctx, cmd.ActivityID)
	if err != nil {
		return nil, shared.WrapError("command", "UpdateActivity", shared.ErrNotFound, "activity not found", err)
	}

	newGrading := grading.Settings{
		Type:        grading.ParseGradeType(cmd.GradeType),
		Aggregation: grading.ParseAggregation(cmd.Aggregation),
		ExpiryDays:  cmd.ExpiryDays,
	}
	gradingChanged := newGrading != act.Grading

	act.Name = strings.TrimSpace(cmd.Name)
	act.ActivityIRI = strings.TrimSpace(cmd.ActivityIRI)
	act.LaunchURL = strings.TrimSpace(cmd.LaunchURL)
	act.CompletionVerb = strings.TrimSpace(cmd.CompletionVerb)
	act.Grading = newGrading
	act.OverrideDefaults = cmd.Override != nil
	act.UpdatedAt = time.Now().UTC()

	if err := act.Validate(); err != nil {
		return nil, err
	}
	if err := h.activityRepo.Update(ctx, act); err != nil {
		return nil, err
	}

	if cmd.Override != nil {
		if err := h.putOverride(ctx, act.ID, cmd.Override); err != nil {
			return nil, err
		}
	}

	if gradingChanged {
		if err := h.gradebook.Reset(ctx, act.ID); err != nil {
			return nil, err
		}
	}
	return act, nil
}

// HandleDelete removes the instance, its override row and its grades.
func (h *ManageActivityHandler) HandleDelete(ctx context.Context, cmd DeleteActivityCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	if err := h.gradebook.Reset(ctx, cmd.ActivityID); err != nil {
		return err
	}
	return h.activityRepo.Delete(ctx, cmd.ActivityID)
}

func (h *ManageActivityHandler) putOverride(ctx context.Context, activityID int64, in *OverrideInput) error {
	return h.activityRepo.PutOverride(ctx, &activity.Override{
		ActivityID:            activityID,
		Endpoint:              strings.TrimSpace(in.Endpoint),
		Username:              in.Username,
		Password:              in.Password,
		CustomAccountHomePage: strings.TrimSpace(in.CustomAccountHomePage),
		UseEmailIdentity:      in.UseEmailIdentity,
	})
}
