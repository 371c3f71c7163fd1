// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/domain/registration"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/internal/domain/user"
	"github.com/tincanhub/tincan-launch/internal/domain/xapi"
)

// ══════════════════════════════════════════════════════════════════════════════
// LRS ACCESS
// ══════════════════════════════════════════════════════════════════════════════

// Connector is the slice of the LRS client the launch sequence needs.
type Connector interface {
	// GetState fetches a State API document; missing documents return a
	// nil body and empty etag without error.
	GetState(ctx context.Context, activityIRI string, agent xapi.Agent, stateID string) (body []byte, etag string, err error)

	// PutState writes a State API document guarded by the etag read
	// earlier. Empty etag asserts creation.
	PutState(ctx context.Context, activityIRI string, agent xapi.Agent, stateID string, doc []byte, etag string) error

	// GetAgentProfile and PutAgentProfile mirror the state pair for the
	// Agent Profile API.
	GetAgentProfile(ctx context.Context, agent xapi.Agent, profileID string) (body []byte, etag string, err error)
	PutAgentProfile(ctx context.Context, agent xapi.Agent, profileID string, doc any, etag string) error

	// SaveStatement records a statement.
	SaveStatement(ctx context.Context, st xapi.Statement) error

	// Endpoint and BasicAuthorization are forwarded to the launched
	// content so it can talk to the same LRS.
	Endpoint() string
	BasicAuthorization() string
}

// ConnectorFactory builds a connector for freshly resolved settings.
type ConnectorFactory func(settings activity.LRSSettings) (Connector, error)

// Agent profile documents written during the launch sequence.
const (
	ProfileLearnerPreferences = "CMI5LearnerPreferences"
	ProfileLMSUserFields      = "LMSUserFields"
)

// LearnerPreferences is the cmi5 learner preferences profile document.
type LearnerPreferences struct {
	LanguagePreference string `json:"languagePreference"`
	AudioPreference    string `json:"audioPreference,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD LAUNCH COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RecordLaunchCommand starts (or resumes) an attempt: it registers the
// launch on the LRS and produces the URL the learner is redirected to.
type RecordLaunchCommand struct {
	// ActivityID is the launch activity instance.
	ActivityID int64

	// UserID is the learner launching the activity.
	UserID int64

	// RegistrationID resumes an existing attempt when set; empty starts
	// a new attempt under a fresh registration.
	RegistrationID string

	// Now is the launch instant; zero means current time.
	Now time.Time
}

// Validate checks the command parameters.
func (c *RecordLaunchCommand) Validate() error {
	if c.ActivityID <= 0 {
		return shared.NewDomainError("command", "RecordLaunch", shared.ErrInvalidInput, "activity id is required")
	}
	if c.UserID <= 0 {
		return shared.NewDomainError("command", "RecordLaunch", shared.ErrInvalidInput, "user id is required")
	}
	if c.Now.IsZero() {
		c.Now = time.Now().UTC()
	}
	return nil
}

// RecordLaunchResult carries the outcome of a successful launch.
type RecordLaunchResult struct {
	// LaunchURL is the fully parameterized content URL.
	LaunchURL string `json:"launch_url"`

	// RegistrationID is the attempt the launch ran under.
	RegistrationID string `json:"registration_id"`

	// LaunchedAt is the recorded launch instant.
	LaunchedAt time.Time `json:"launched_at"`
}

// RecordLaunchHandler executes the launch sequence.
type RecordLaunchHandler struct {
	activityRepo  activity.Repository
	userRepo      user.Repository
	defaults      activity.LRSSettings
	instanceURL   string
	profileFields []string
	connectors    ConnectorFactory
}

// NewRecordLaunchHandler creates a new handler. profileFields names the
// user profile fields forwarded to the LMSUserFields agent profile.
func NewRecordLaunchHandler(
	activityRepo activity.Repository,
	userRepo user.Repository,
	defaults activity.LRSSettings,
	instanceURL string,
	profileFields []string,
	connectors ConnectorFactory,
) *RecordLaunchHandler {
	return &RecordLaunchHandler{
		activityRepo:  activityRepo,
		userRepo:      userRepo,
		defaults:      defaults,
		instanceURL:   instanceURL,
		profileFields: profileFields,
		connectors:    connectors,
	}
}

// Handle runs the launch sequence in order: record the registration in
// the LRS state document, publish the agent profiles, save the
// "launched" statement, then hand back the launch URL. Any step failing
// aborts the sequence; the learner is never redirected to content whose
// launch the LRS does not know about.
func (h *RecordLaunchHandler) Handle(ctx context.Context, cmd RecordLaunchCommand) (*RecordLaunchResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	act, err := h.activityRepo.GetByID(ctx, cmd.ActivityID)
	if err != nil {
		return nil, shared.WrapError("command", "RecordLaunch", shared.ErrNotFound, "activity not found", err)
	}

	u, err := h.userRepo.GetByID(ctx, cmd.UserID)
	if err != nil {
		return nil, shared.WrapError("command", "RecordLaunch", shared.ErrNotFound, "user not found", err)
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

	conn, err := h.connectors(settings)
	if err != nil {
		return nil, err
	}

	registrationID := cmd.RegistrationID
	if registrationID == "" {
		registrationID = registration.NewID()
	}

	if err := h.recordRegistration(ctx, conn, act.ActivityIRI, actor, registrationID, cmd.Now); err != nil {
		return nil, err
	}

	if err := h.publishAgentProfiles(ctx, conn, actor, u); err != nil {
		return nil, err
	}

	st := xapi.NewLaunchedStatement(actor, act.ActivityIRI, act.Name, registrationID, cmd.Now)
	if err := conn.SaveStatement(ctx, st); err != nil {
		return nil, err
	}

	launchURL, err := BuildLaunchURL(act.LaunchURL, conn.Endpoint(), conn.BasicAuthorization(), actor, registrationID, act.ActivityIRI)
	if err != nil {
		return nil, err
	}

	return &RecordLaunchResult{
		LaunchURL:      launchURL,
		RegistrationID: registrationID,
		LaunchedAt:     cmd.Now,
	}, nil
}

// recordRegistration merges the launch into the registration state
// document under optimistic concurrency: one fetch, one merge, one
// guarded write. A lost ETag race surfaces as
// shared.ErrConcurrentModification and the launch aborts; exactly one
// of two racing launches can succeed.
func (h *RecordLaunchHandler) recordRegistration(ctx context.Context, conn Connector, activityIRI string, actor xapi.Agent, registrationID string, at time.Time) error {
	body, etag, err := conn.GetState(ctx, activityIRI, actor, registration.StateKey)
	if err != nil {
		return err
	}

	doc := registration.Document{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &doc); err != nil {
			// A corrupt document is replaced rather than left poisoning
			// every future launch.
			doc = registration.Document{}
		}
	}
	doc.Merge(registrationID, at)

	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal registration document: %w", err)
	}

	return conn.PutState(ctx, activityIRI, actor, registration.StateKey, merged, etag)
}

// publishAgentProfiles writes the learner preference and LMS user field
// documents, preserving etag discipline against concurrent launches.
func (h *RecordLaunchHandler) publishAgentProfiles(ctx context.Context, conn Connector, actor xapi.Agent, u *user.User) error {
	prefs := LearnerPreferences{LanguagePreference: u.Lang}
	if err := h.putProfile(ctx, conn, actor, ProfileLearnerPreferences, prefs); err != nil {
		return err
	}

	fields := h.selectProfileFields(u)
	if len(fields) == 0 {
		return nil
	}
	return h.putProfile(ctx, conn, actor, ProfileLMSUserFields, fields)
}

// putProfile writes one profile document under the same single-attempt
// etag discipline as the state write; a concurrent writer surfaces to
// the caller instead of being raced against.
func (h *RecordLaunchHandler) putProfile(ctx context.Context, conn Connector, actor xapi.Agent, profileID string, doc any) error {
	_, etag, err := conn.GetAgentProfile(ctx, actor, profileID)
	if err != nil {
		return err
	}
	return conn.PutAgentProfile(ctx, actor, profileID, doc, etag)
}

func (h *RecordLaunchHandler) selectProfileFields(u *user.User) map[string]string {
	if len(h.profileFields) == 0 || len(u.ProfileFields) == 0 {
		return nil
	}
	fields := make(map[string]string)
	for _, name := range h.profileFields {
		if v, ok := u.ProfileFields[name]; ok && v != "" {
			fields[name] = v
		}
	}
	return fields
}

func (h *RecordLaunchHandler) resolveSettings(ctx context.Context, act *activity.LaunchActivity) (activity.LRSSettings, error) {
	var ov *activity.Override
	if act.OverrideDefaults {
		var err error
		ov, err = h.activityRepo.GetOverride(ctx, act.ID)
		if err != nil {
			return activity.LRSSettings{}, shared.WrapError("command", "resolveSettings", shared.ErrNotFound,
				"lrs override lookup failed", err)
		}
	}
	return activity.ResolveLRSSettings(act, ov, h.defaults), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LAUNCH URL
// ══════════════════════════════════════════════════════════════════════════════

// BuildLaunchURL appends the Tin Can launch parameters to the content
// URL: endpoint, auth, actor, registration and activity_id. Existing
// query parameters on the content URL are preserved.
func BuildLaunchURL(contentURL, endpoint, auth string, actor xapi.Agent, registrationID, activityIRI string) (string, error) {
	actorJSON, err := json.Marshal(actor)
	if err != nil {
		return "", fmt.Errorf("marshal actor: %w", err)
	}

	params := url.Values{}
	params.Set("endpoint", endpoint)
	params.Set("auth", auth)
	params.Set("actor", string(actorJSON))
	params.Set("registration", registrationID)
	params.Set("activity_id", activityIRI)

	sep := "?"
	if strings.Contains(contentURL, "?") {
		sep = "&"
	}
	return contentURL + sep + params.Encode(), nil
}
