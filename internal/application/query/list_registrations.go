package query

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/domain/registration"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/internal/domain/user"
	"github.com/tincanhub/tincan-launch/internal/domain/xapi"
)

// StateReader is the slice of the LRS client registration listing needs.
type StateReader interface {
	GetState(ctx context.Context, activityIRI string, agent xapi.Agent, stateID string) (body []byte, etag string, err error)
}

// StateReaderFactory builds a state reader for freshly resolved settings.
type StateReaderFactory func(settings activity.LRSSettings) (StateReader, error)

// ══════════════════════════════════════════════════════════════════════════════
// LIST REGISTRATIONS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListRegistrationsQuery asks for a learner's attempt history on an
// activity, as recorded in the LRS state document.
type ListRegistrationsQuery struct {
	ActivityID int64
	UserID     int64
}

// Validate checks the query parameters.
func (q *ListRegistrationsQuery) Validate() error {
	if q.ActivityID <= 0 {
		return shared.NewDomainError("query", "ListRegistrations", shared.ErrInvalidInput, "activity id is required")
	}
	if q.UserID <= 0 {
		return shared.NewDomainError("query", "ListRegistrations", shared.ErrInvalidInput, "user id is required")
	}
	return nil
}

// RegistrationDTO is one attempt in the listing.
type RegistrationDTO struct {
	ID           string    `json:"id"`
	Created      time.Time `json:"created"`
	LastLaunched time.Time `json:"lastlaunched"`

	// Current marks the most recently launched attempt.
	Current bool `json:"current"`
}

// ListRegistrationsResult is the attempt history, newest launch first.
type ListRegistrationsResult struct {
	Registrations []RegistrationDTO `json:"registrations"`
}

// ListRegistrationsHandler answers attempt-history queries.
type ListRegistrationsHandler struct {
	activityRepo activity.Repository
	userRepo     user.Repository
	defaults     activity.LRSSettings
	instanceURL  string
	readers      StateReaderFactory
}

// NewListRegistrationsHandler creates a new handler.
func NewListRegistrationsHandler(
	activityRepo activity.Repository,
	userRepo user.Repository,
	defaults activity.LRSSettings,
	instanceURL string,
	readers StateReaderFactory,
) *ListRegistrationsHandler {
	return &ListRegistrationsHandler{
		activityRepo: activityRepo,
		userRepo:     userRepo,
		defaults:     defaults,
		instanceURL:  instanceURL,
		readers:      readers,
	}
}

// Handle reads the registration state document and returns the attempts
// ordered newest launch first. A missing document is an empty history.
func (h *ListRegistrationsHandler) Handle(ctx context.Context, query ListRegistrationsQuery) (*ListRegistrationsResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	act, err := h.activityRepo.GetByID(ctx, query.ActivityID)
	if err != nil {
		return nil, shared.WrapError("query", "ListRegistrations", shared.ErrNotFound, "activity not found", err)
	}

	u, err := h.userRepo.GetByID(ctx, query.UserID)
	if err != nil {
		return nil, shared.WrapError("query", "ListRegistrations", shared.ErrNotFound, "user not found", err)
	}

	var ov *activity.Override
	if act.OverrideDefaults {
		ov, err = h.activityRepo.GetOverride(ctx, act.ID)
		if err != nil {
			return nil, shared.WrapError("query", "ListRegistrations", shared.ErrNotFound,
				"lrs override lookup failed", err)
		}
	}
	settings := activity.ResolveLRSSettings(act, ov, h.defaults)

	actor := xapi.ResolveActor(u, xapi.IdentitySource{
		CustomAccountHomePage: settings.CustomAccountHomePage,
		UseEmailIdentity:      settings.UseEmailIdentity,
		InstanceHomePage:      h.instanceURL,
	})

	reader, err := h.readers(settings)
	if err != nil {
		return nil, err
	}

	body, _, err := reader.GetState(ctx, act.ActivityIRI, actor, registration.StateKey)
	if err != nil {
		return nil, err
	}

	result := &ListRegistrationsResult{Registrations: []RegistrationDTO{}}
	if len(body) == 0 {
		return result, nil
	}

	doc := registration.Document{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, shared.WrapError("query", "ListRegistrations", shared.ErrLRSTransport,
			"malformed registration document", err)
	}

	current := doc.MostRecent()
	for id, rec := range doc {
		result.Registrations = append(result.Registrations, RegistrationDTO{
			ID:           id,
			Created:      rec.Created,
			LastLaunched: rec.LastLaunched,
			Current:      id == current,
		})
	}
	sort.Slice(result.Registrations, func(i, j int) bool {
		a, b := result.Registrations[i], result.Registrations[j]
		if !a.LastLaunched.Equal(b.LastLaunched) {
			return a.LastLaunched.After(b.LastLaunched)
		}
		return a.ID < b.ID
	})

	return result, nil
}
