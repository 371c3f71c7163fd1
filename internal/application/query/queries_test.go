package query

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/domain/grading"
	"github.com/tincanhub/tincan-launch/internal/domain/registration"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/internal/domain/user"
	"github.com/tincanhub/tincan-launch/internal/domain/xapi"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeActivityRepo struct {
	activity *activity.LaunchActivity
	override *activity.Override
}

func (r *fakeActivityRepo) GetByID(_ context.Context, id int64) (*activity.LaunchActivity, error) {
	if r.activity == nil || r.activity.ID != id {
		return nil, shared.ErrNotFound
	}
	return r.activity, nil
}

func (r *fakeActivityRepo) List(context.Context) ([]*activity.LaunchActivity, error) {
	if r.activity == nil {
		return nil, nil
	}
	return []*activity.LaunchActivity{r.activity}, nil
}

func (r *fakeActivityRepo) Create(_ context.Context, a *activity.LaunchActivity) error {
	r.activity = a
	return nil
}

func (r *fakeActivityRepo) Update(_ context.Context, a *activity.LaunchActivity) error {
	r.activity = a
	return nil
}

func (r *fakeActivityRepo) Delete(context.Context, int64) error {
	r.activity = nil
	return nil
}

func (r *fakeActivityRepo) GetOverride(context.Context, int64) (*activity.Override, error) {
	return r.override, nil
}

func (r *fakeActivityRepo) PutOverride(_ context.Context, ov *activity.Override) error {
	r.override = ov
	return nil
}

type fakeUserRepo struct {
	user *user.User
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int64) (*user.User, error) {
	if r.user == nil || r.user.ID != id {
		return nil, shared.ErrNotFound
	}
	return r.user, nil
}

func (r *fakeUserRepo) ListEnrolledByCourse(context.Context, int64) ([]*user.User, error) {
	if r.user == nil {
		return nil, nil
	}
	return []*user.User{r.user}, nil
}

// fakeReader records the query it was asked to run.
type fakeReader struct {
	lastQuery  xapi.StatementQuery
	statements []xapi.Statement
	err        error
}

func (r *fakeReader) FetchAllStatements(_ context.Context, q xapi.StatementQuery) ([]xapi.Statement, error) {
	r.lastQuery = q
	if r.err != nil {
		return nil, r.err
	}
	return r.statements, nil
}

type fakeStateReader struct {
	body []byte
	err  error
}

func (r *fakeStateReader) GetState(context.Context, string, xapi.Agent, string) ([]byte, string, error) {
	if r.err != nil {
		return nil, "", r.err
	}
	return r.body, `"etag1"`, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

var queryNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func queryActivity() *activity.LaunchActivity {
	return &activity.LaunchActivity{
		ID:             1,
		CourseID:       10,
		Name:           "Intro Module",
		ActivityIRI:    "https://content.example.com/intro",
		LaunchURL:      "https://content.example.com/intro/index.html",
		CompletionVerb: xapi.VerbCompleted,
		Grading: grading.Settings{
			Type:        grading.GradeTypeScored,
			Aggregation: grading.AggregationMostRecent,
			ExpiryDays:  30,
		},
	}
}

func queryUser() *user.User {
	return &user.User{ID: 7, Username: "aliya", Email: "aliya@example.com"}
}

func defaultSettings() activity.LRSSettings {
	return activity.LRSSettings{Endpoint: "https://lrs.example.com/xapi", Version: "1.0.0"}
}

func completedStmt(at time.Time, score *xapi.Score) xapi.Statement {
	st := xapi.Statement{
		Verb:      xapi.Verb{ID: xapi.VerbCompleted},
		Object:    xapi.Activity{ID: "https://content.example.com/intro"},
		Timestamp: at,
	}
	if score != nil {
		st.Result = &xapi.Result{Score: score}
	}
	return st
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECK COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

func newCompletionHandler(repo *fakeActivityRepo, reader *fakeReader) *CheckCompletionHandler {
	return NewCheckCompletionHandler(
		repo,
		&fakeUserRepo{user: queryUser()},
		defaultSettings(),
		"https://lms.example.com",
		func(activity.LRSSettings) (StatementReader, error) { return reader, nil },
	)
}

func TestCheckCompletion_Completed(t *testing.T) {
	reader := &fakeReader{statements: []xapi.Statement{completedStmt(queryNow.Add(-time.Hour), nil)}}
	handler := newCompletionHandler(&fakeActivityRepo{activity: queryActivity()}, reader)

	result, err := handler.Handle(context.Background(), CheckCompletionQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, 1, result.Statements)
	assert.Equal(t, queryNow, result.CheckedAt)
}

func TestCheckCompletion_QueryBoundedByExpiryWindow(t *testing.T) {
	reader := &fakeReader{}
	handler := newCompletionHandler(&fakeActivityRepo{activity: queryActivity()}, reader)

	_, err := handler.Handle(context.Background(), CheckCompletionQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	require.NoError(t, err)

	q := reader.lastQuery
	assert.Equal(t, "https://content.example.com/intro", q.ActivityIRI)
	assert.Equal(t, xapi.VerbCompleted, q.VerbIRI)
	require.NotNil(t, q.Since)
	assert.Equal(t, queryNow.AddDate(0, 0, -30), *q.Since)
}

func TestCheckCompletion_NoExpiryMeansUnboundedQuery(t *testing.T) {
	act := queryActivity()
	act.Grading.ExpiryDays = 0
	reader := &fakeReader{}
	handler := newCompletionHandler(&fakeActivityRepo{activity: act}, reader)

	_, err := handler.Handle(context.Background(), CheckCompletionQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	require.NoError(t, err)
	assert.Nil(t, reader.lastQuery.Since)
}

func TestCheckCompletion_NoStatementsMeansIncomplete(t *testing.T) {
	handler := newCompletionHandler(&fakeActivityRepo{activity: queryActivity()}, &fakeReader{})

	result, err := handler.Handle(context.Background(), CheckCompletionQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	require.NoError(t, err)
	assert.False(t, result.Completed)
}

func TestCheckCompletion_NotApplicableWithoutVerb(t *testing.T) {
	act := queryActivity()
	act.CompletionVerb = ""
	handler := newCompletionHandler(&fakeActivityRepo{activity: act}, &fakeReader{})

	_, err := handler.Handle(context.Background(), CheckCompletionQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	assert.True(t, shared.IsNotApplicable(err))
}

func TestCheckCompletion_LRSFailureAborts(t *testing.T) {
	reader := &fakeReader{err: shared.NewDomainError("lrs", "FetchAllStatements", shared.ErrLRSTransport, "down")}
	handler := newCompletionHandler(&fakeActivityRepo{activity: queryActivity()}, reader)

	result, err := handler.Handle(context.Background(), CheckCompletionQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	assert.Nil(t, result)
	assert.True(t, shared.IsLRSTransport(err))
}

func TestCheckCompletion_UnknownActivity(t *testing.T) {
	handler := newCompletionHandler(&fakeActivityRepo{}, &fakeReader{})

	_, err := handler.Handle(context.Background(), CheckCompletionQuery{ActivityID: 99, UserID: 7, Now: queryNow})
	assert.True(t, shared.IsNotFound(err))
}

func TestCheckCompletion_OverrideSettingsReachReader(t *testing.T) {
	act := queryActivity()
	act.OverrideDefaults = true
	repo := &fakeActivityRepo{
		activity: act,
		override: &activity.Override{ActivityID: 1, Endpoint: "https://other.example.com/xapi"},
	}

	var seen activity.LRSSettings
	handler := NewCheckCompletionHandler(repo, &fakeUserRepo{user: queryUser()},
		defaultSettings(), "https://lms.example.com",
		func(s activity.LRSSettings) (StatementReader, error) {
			seen = s
			return &fakeReader{}, nil
		})

	_, err := handler.Handle(context.Background(), CheckCompletionQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/xapi", seen.Endpoint)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPUTE GRADE
// ══════════════════════════════════════════════════════════════════════════════

func newGradeHandler(repo *fakeActivityRepo, reader *fakeReader) *ComputeGradeHandler {
	return NewComputeGradeHandler(
		repo,
		&fakeUserRepo{user: queryUser()},
		defaultSettings(),
		"https://lms.example.com",
		func(activity.LRSSettings) (StatementReader, error) { return reader, nil },
	)
}

func TestComputeGrade_MostRecent(t *testing.T) {
	reader := &fakeReader{statements: []xapi.Statement{
		completedStmt(queryNow.Add(-2*time.Hour), &xapi.Score{Raw: 4, Min: 0, Max: 10}),
		completedStmt(queryNow.Add(-1*time.Hour), &xapi.Score{Raw: 7, Min: 0, Max: 10}),
	}}
	handler := newGradeHandler(&fakeActivityRepo{activity: queryActivity()}, reader)

	result, err := handler.Handle(context.Background(), ComputeGradeQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	require.NoError(t, err)
	require.NotNil(t, result.Grade)
	assert.Equal(t, 7.0, result.Grade.Raw)
	assert.Equal(t, 2, result.Statements)
}

func TestComputeGrade_FetchIsNotWindowBounded(t *testing.T) {
	// Aggregation needs the full record to pick the canonical scale, so
	// the statement fetch carries no lower time bound even with an
	// expiry window configured.
	reader := &fakeReader{}
	handler := newGradeHandler(&fakeActivityRepo{activity: queryActivity()}, reader)

	_, err := handler.Handle(context.Background(), ComputeGradeQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	require.NoError(t, err)
	assert.Nil(t, reader.lastQuery.Since)
}

func TestComputeGrade_NotApplicableWhenGradingDisabled(t *testing.T) {
	act := queryActivity()
	act.Grading.Type = grading.GradeTypeNone
	handler := newGradeHandler(&fakeActivityRepo{activity: act}, &fakeReader{})

	_, err := handler.Handle(context.Background(), ComputeGradeQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	assert.True(t, shared.IsNotApplicable(err))
}

func TestComputeGrade_NoScoredStatements(t *testing.T) {
	reader := &fakeReader{statements: []xapi.Statement{completedStmt(queryNow.Add(-time.Hour), nil)}}
	handler := newGradeHandler(&fakeActivityRepo{activity: queryActivity()}, reader)

	result, err := handler.Handle(context.Background(), ComputeGradeQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	require.NoError(t, err)
	assert.Nil(t, result.Grade)
}

func TestComputeGrade_LRSFailureAborts(t *testing.T) {
	reader := &fakeReader{err: shared.NewDomainError("lrs", "FetchAllStatements", shared.ErrLRSTransport, "down")}
	handler := newGradeHandler(&fakeActivityRepo{activity: queryActivity()}, reader)

	_, err := handler.Handle(context.Background(), ComputeGradeQuery{ActivityID: 1, UserID: 7, Now: queryNow})
	assert.True(t, shared.IsLRSTransport(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// LIST REGISTRATIONS
// ══════════════════════════════════════════════════════════════════════════════

func newListHandler(state *fakeStateReader) *ListRegistrationsHandler {
	return NewListRegistrationsHandler(
		&fakeActivityRepo{activity: queryActivity()},
		&fakeUserRepo{user: queryUser()},
		defaultSettings(),
		"https://lms.example.com",
		func(activity.LRSSettings) (StateReader, error) { return state, nil },
	)
}

func TestListRegistrations_MissingDocumentIsEmptyHistory(t *testing.T) {
	handler := newListHandler(&fakeStateReader{})

	result, err := handler.Handle(context.Background(), ListRegistrationsQuery{ActivityID: 1, UserID: 7})
	require.NoError(t, err)
	require.NotNil(t, result.Registrations)
	assert.Empty(t, result.Registrations)
}

func TestListRegistrations_NewestFirstWithCurrentFlag(t *testing.T) {
	doc := registration.Document{
		"reg-old": {Created: queryNow.Add(-48 * time.Hour), LastLaunched: queryNow.Add(-48 * time.Hour)},
		"reg-new": {Created: queryNow.Add(-1 * time.Hour), LastLaunched: queryNow},
		"reg-mid": {Created: queryNow.Add(-24 * time.Hour), LastLaunched: queryNow.Add(-24 * time.Hour)},
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)

	handler := newListHandler(&fakeStateReader{body: body})
	result, err := handler.Handle(context.Background(), ListRegistrationsQuery{ActivityID: 1, UserID: 7})
	require.NoError(t, err)
	require.Len(t, result.Registrations, 3)

	assert.Equal(t, "reg-new", result.Registrations[0].ID)
	assert.Equal(t, "reg-mid", result.Registrations[1].ID)
	assert.Equal(t, "reg-old", result.Registrations[2].ID)

	assert.True(t, result.Registrations[0].Current)
	assert.False(t, result.Registrations[1].Current)
	assert.False(t, result.Registrations[2].Current)
}

func TestListRegistrations_MalformedDocument(t *testing.T) {
	handler := newListHandler(&fakeStateReader{body: []byte("not json")})

	_, err := handler.Handle(context.Background(), ListRegistrationsQuery{ActivityID: 1, UserID: 7})
	assert.Error(t, err)
}

func TestListRegistrations_Validation(t *testing.T) {
	handler := newListHandler(&fakeStateReader{})

	_, err := handler.Handle(context.Background(), ListRegistrationsQuery{UserID: 7})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
