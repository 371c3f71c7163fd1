package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tincanhub/tincan-launch/internal/application/query"
	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/domain/gradebook"
	"github.com/tincanhub/tincan-launch/internal/domain/grading"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/internal/domain/user"
	"github.com/tincanhub/tincan-launch/internal/domain/xapi"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeActivityRepo struct {
	activities []*activity.LaunchActivity
	listCalls  int
}

func (r *fakeActivityRepo) GetByID(_ context.Context, id int64) (*activity.LaunchActivity, error) {
	for _, a := range r.activities {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeActivityRepo) List(context.Context) ([]*activity.LaunchActivity, error) {
	r.listCalls++
	return r.activities, nil
}

func (r *fakeActivityRepo) Create(context.Context, *activity.LaunchActivity) error { return nil }
func (r *fakeActivityRepo) Update(context.Context, *activity.LaunchActivity) error { return nil }
func (r *fakeActivityRepo) Delete(context.Context, int64) error                    { return nil }
func (r *fakeActivityRepo) GetOverride(context.Context, int64) (*activity.Override, error) {
	return nil, nil
}
func (r *fakeActivityRepo) PutOverride(context.Context, *activity.Override) error { return nil }

type fakeUserRepo struct {
	byCourse map[int64][]*user.User
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int64) (*user.User, error) {
	for _, users := range r.byCourse {
		for _, u := range users {
			if u.ID == id {
				return u, nil
			}
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeUserRepo) ListEnrolledByCourse(_ context.Context, courseID int64) ([]*user.User, error) {
	return r.byCourse[courseID], nil
}

type fakeGradebook struct {
	upserts []gradebook.Item
}

func (g *fakeGradebook) Upsert(_ context.Context, item gradebook.Item) error {
	g.upserts = append(g.upserts, item)
	return nil
}

func (g *fakeGradebook) Reset(context.Context, int64) error { return nil }

// fakeLRS serves statements keyed by the learner's account name and can
// be told to fail for specific learners.
type fakeLRS struct {
	statements map[string][]xapi.Statement
	failFor    map[string]bool
	fetches    map[string]int
}

func (f *fakeLRS) FetchAllStatements(_ context.Context, q xapi.StatementQuery) ([]xapi.Statement, error) {
	name := ""
	if q.Agent.Account != nil {
		name = q.Agent.Account.Name
	}
	if f.fetches == nil {
		f.fetches = map[string]int{}
	}
	f.fetches[name]++
	if f.failFor[name] {
		return nil, shared.NewDomainError("lrs", "FetchAllStatements", shared.ErrLRSTransport, "down")
	}
	return f.statements[name], nil
}

type fakeCheckpoints struct {
	held     bool
	acquired int
	released int
	marked   []int64
}

func (c *fakeCheckpoints) AcquireLock(context.Context, string, string, time.Duration) (bool, error) {
	c.acquired++
	return !c.held, nil
}

func (c *fakeCheckpoints) ReleaseLock(context.Context, string, string) error {
	c.released++
	return nil
}

func (c *fakeCheckpoints) MarkChecked(_ context.Context, activityID int64, _ time.Time) error {
	c.marked = append(c.marked, activityID)
	return nil
}

func (c *fakeCheckpoints) LastChecked(context.Context, int64) (time.Time, error) {
	return time.Time{}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

func sweepActivity(id int64) *activity.LaunchActivity {
	return &activity.LaunchActivity{
		ID:             id,
		CourseID:       10,
		Name:           "Intro Module",
		ActivityIRI:    "https://content.example.com/intro",
		LaunchURL:      "https://content.example.com/intro/index.html",
		CompletionVerb: xapi.VerbCompleted,
		Grading: grading.Settings{
			Type:        grading.GradeTypeScored,
			Aggregation: grading.AggregationMostRecent,
		},
	}
}

func scored(raw float64, at time.Time) xapi.Statement {
	return xapi.Statement{
		Verb:      xapi.Verb{ID: xapi.VerbCompleted},
		Object:    xapi.Activity{ID: "https://content.example.com/intro"},
		Result:    &xapi.Result{Score: &xapi.Score{Raw: raw, Min: 0, Max: 10}},
		Timestamp: at,
	}
}

type sweepFixture struct {
	activities  *fakeActivityRepo
	users       *fakeUserRepo
	gradebook   *fakeGradebook
	lrs         *fakeLRS
	checkpoints *fakeCheckpoints
	job         *CheckGradesJob
}

func newSweepFixture(activities ...*activity.LaunchActivity) *sweepFixture {
	f := &sweepFixture{
		activities: &fakeActivityRepo{activities: activities},
		users: &fakeUserRepo{byCourse: map[int64][]*user.User{
			10: {
				{ID: 1, Username: "aliya"},
				{ID: 2, Username: "marat"},
			},
		}},
		gradebook:   &fakeGradebook{},
		lrs:         &fakeLRS{statements: map[string][]xapi.Statement{}, failFor: map[string]bool{}},
		checkpoints: &fakeCheckpoints{},
	}

	defaults := activity.LRSSettings{Endpoint: "https://lrs.example.com/xapi", Version: "1.0.0"}
	readers := func(activity.LRSSettings) (query.StatementReader, error) { return f.lrs, nil }

	grades := query.NewComputeGradeHandler(f.activities, f.users, defaults, "https://lms.example.com", readers)

	f.job = NewCheckGradesJob(f.activities, f.users, f.gradebook, grades,
		f.checkpoints, nil, DefaultCheckGradesConfig())
	return f
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestCheckGrades_WritesGrades(t *testing.T) {
	f := newSweepFixture(sweepActivity(1))
	at := time.Now().Add(-time.Hour)
	f.lrs.statements["aliya"] = []xapi.Statement{scored(7, at)}
	f.lrs.statements["marat"] = []xapi.Statement{scored(4, at)}

	require.NoError(t, f.job.Run(context.Background()))

	require.Len(t, f.gradebook.upserts, 2)
	assert.Equal(t, 7.0, *f.gradebook.upserts[0].Raw)
	assert.Equal(t, int64(1), f.gradebook.upserts[0].UserID)
	assert.Equal(t, 4.0, *f.gradebook.upserts[1].Raw)

	stats := f.job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.Activities)
	assert.Equal(t, 2, stats.LearnersChecked)
	assert.Equal(t, 2, stats.GradesWritten)
	assert.Equal(t, 0, stats.Failures)
}

func TestCheckGrades_SkipsWhenLockHeld(t *testing.T) {
	f := newSweepFixture(sweepActivity(1))
	f.checkpoints.held = true

	require.NoError(t, f.job.Run(context.Background()))

	assert.Equal(t, 0, f.activities.listCalls)
	assert.Empty(t, f.gradebook.upserts)
	assert.Equal(t, 0, f.checkpoints.released)
}

func TestCheckGrades_ReleasesLockAndMarksCheckpoints(t *testing.T) {
	f := newSweepFixture(sweepActivity(1), sweepActivity(2))

	require.NoError(t, f.job.Run(context.Background()))

	assert.Equal(t, 1, f.checkpoints.acquired)
	assert.Equal(t, 1, f.checkpoints.released)
	assert.Equal(t, []int64{1, 2}, f.checkpoints.marked)
}

func TestCheckGrades_LearnerFailureDoesNotBlockSweep(t *testing.T) {
	f := newSweepFixture(sweepActivity(1))
	f.lrs.failFor["aliya"] = true
	f.lrs.statements["marat"] = []xapi.Statement{scored(4, time.Now().Add(-time.Hour))}

	require.NoError(t, f.job.Run(context.Background()))

	require.Len(t, f.gradebook.upserts, 1)
	assert.Equal(t, int64(2), f.gradebook.upserts[0].UserID)

	stats := f.job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 2, stats.LearnersChecked)
	assert.Equal(t, 1, stats.GradesWritten)
}

func TestCheckGrades_NoGradeLeavesGradebookUntouched(t *testing.T) {
	f := newSweepFixture(sweepActivity(1))
	// Completion evidence without scores: nothing to write.
	f.lrs.statements["aliya"] = []xapi.Statement{{
		Verb:      xapi.Verb{ID: xapi.VerbCompleted},
		Object:    xapi.Activity{ID: "https://content.example.com/intro"},
		Timestamp: time.Now().Add(-time.Hour),
	}}

	require.NoError(t, f.job.Run(context.Background()))
	assert.Empty(t, f.gradebook.upserts)
}

func TestCheckGrades_SkipsUngradedActivities(t *testing.T) {
	plain := sweepActivity(1)
	plain.Grading.Type = grading.GradeTypeNone

	f := newSweepFixture(plain)
	require.NoError(t, f.job.Run(context.Background()))

	stats := f.job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.SkippedUngraded)
	assert.Equal(t, 0, stats.LearnersChecked)
}

func TestCheckGrades_LoadsStatementsOncePerLearner(t *testing.T) {
	act := sweepActivity(1)
	f := newSweepFixture(act)
	f.lrs.statements["aliya"] = []xapi.Statement{scored(7, time.Now().Add(-time.Hour))}

	require.NoError(t, f.job.Run(context.Background()))

	// The sweep only computes grades; completion is answered on demand
	// by its own query, so each learner costs exactly one LRS load.
	assert.Equal(t, 1, f.lrs.fetches["aliya"])
	assert.Equal(t, 1, f.lrs.fetches["marat"])
}

func TestCheckGrades_RunsUncoordinatedWithoutCheckpoints(t *testing.T) {
	f := newSweepFixture(sweepActivity(1))
	f.lrs.statements["aliya"] = []xapi.Statement{scored(9, time.Now().Add(-time.Hour))}

	job := NewCheckGradesJob(f.activities, f.users, f.gradebook,
		f.job.grades, nil, nil, DefaultCheckGradesConfig())

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, f.gradebook.upserts, 1)
}

func TestCheckGrades_Name(t *testing.T) {
	f := newSweepFixture()
	assert.Equal(t, "check_grades", f.job.Name())
	assert.NotEmpty(t, f.job.Description())
}
