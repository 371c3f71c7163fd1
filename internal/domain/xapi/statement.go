package xapi

import (
	"time"
)

// Well-known verb IRIs used by this service.
const (
	// VerbLaunched is recorded when a learner launches an activity.
	VerbLaunched = "http://adlnet.gov/expapi/verbs/launched"

	// VerbCompleted is the conventional default completion verb.
	VerbCompleted = "http://adlnet.gov/expapi/verbs/completed"
)

// Verb identifies the action a statement records.
type Verb struct {
	ID      string            `json:"id"`
	Display map[string]string `json:"display,omitempty"`
}

// Activity is the object of a statement, identified by IRI.
type Activity struct {
	ObjectType string              `json:"objectType,omitempty"`
	ID         string              `json:"id"`
	Definition *ActivityDefinition `json:"definition,omitempty"`
}

// ActivityDefinition carries human-readable metadata about an activity.
type ActivityDefinition struct {
	Name        map[string]string `json:"name,omitempty"`
	Description map[string]string `json:"description,omitempty"`
}

// Score is a statement result score. min <= raw <= max is expected but
// not enforced by the LRS; consumers must tolerate out-of-range values.
type Score struct {
	Raw float64 `json:"raw"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// SameScale reports whether two scores share the same (min, max)
// scoring structure. Scores on different scales cannot be combined.
func (s Score) SameScale(other Score) bool {
	return s.Min == other.Min && s.Max == other.Max
}

// Result carries the outcome portion of a statement.
type Result struct {
	Score      *Score `json:"score,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	Completion *bool  `json:"completion,omitempty"`
	Duration   string `json:"duration,omitempty"`
}

// Context carries statement context; only the registration is relevant here.
type Context struct {
	Registration string `json:"registration,omitempty"`
	Language     string `json:"language,omitempty"`
}

// Statement is an immutable LRS-recorded event. The LRS delivers
// statements in server order, which is not guaranteed chronological;
// consumers sort by Timestamp when recency matters.
type Statement struct {
	ID        string    `json:"id,omitempty"`
	Actor     Agent     `json:"actor"`
	Verb      Verb      `json:"verb"`
	Object    Activity  `json:"object"`
	Result    *Result   `json:"result,omitempty"`
	Context   *Context  `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Score returns the statement's result score, or nil when the statement
// carries no score.
func (s *Statement) ScoreValue() *Score {
	if s.Result == nil {
		return nil
	}
	return s.Result.Score
}

// NewLaunchedStatement builds the "launched" statement recorded at the
// start of every attempt.
func NewLaunchedStatement(actor Agent, activityIRI, activityName, registrationID string, at time.Time) Statement {
	st := Statement{
		Actor: actor,
		Verb: Verb{
			ID:      VerbLaunched,
			Display: map[string]string{"en-US": "launched"},
		},
		Object: Activity{
			ObjectType: "Activity",
			ID:         activityIRI,
		},
		Context: &Context{
			Registration: registrationID,
		},
		Timestamp: at.UTC(),
	}
	if activityName != "" {
		st.Object.Definition = &ActivityDefinition{
			Name: map[string]string{"en-US": activityName},
		}
	}
	return st
}

// StatementQuery is the filter triple (plus optional lower time bound)
// used when fetching statements from the LRS.
type StatementQuery struct {
	// ActivityIRI filters by statement object.
	ActivityIRI string

	// VerbIRI filters by verb.
	VerbIRI string

	// Agent filters by actor (exact identity match).
	Agent Agent

	// Since, when non-nil, is an exclusive lower bound on stored time.
	Since *time.Time
}
