// Package jobs contains implementations of scheduled jobs for the
// launch service.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tincanhub/tincan-launch/internal/application/query"
	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/domain/gradebook"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK GRADES JOB
// ══════════════════════════════════════════════════════════════════════════════

// lockName serializes grade sweeps across worker processes.
const lockName = "check_grades"

// CheckpointStore coordinates sweeps across workers and remembers when
// each activity was last swept. AcquireLock reports false when another
// worker already holds the lock.
type CheckpointStore interface {
	AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
	MarkChecked(ctx context.Context, activityID int64, at time.Time) error
	LastChecked(ctx context.Context, activityID int64) (time.Time, error)
}

// CheckGradesJob walks every graded launch activity and every enrolled
// learner, queries the LRS for fresh score evidence and writes the
// aggregated grade into the gradebook. Completion is answered on demand
// by the query side; the sweep only maintains grades. One learner's LRS
// failure never blocks the rest of the sweep.
type CheckGradesJob struct {
	activityRepo activity.Repository
	userRepo     user.Repository
	gradebook    gradebook.Repository
	grades       *query.ComputeGradeHandler
	checkpoints  CheckpointStore
	logger       *slog.Logger
	config       CheckGradesConfig

	lastStats atomic.Value // *SweepStats
}

// CheckGradesConfig contains configuration for the sweep.
type CheckGradesConfig struct {
	// LockTTL bounds how long a crashed worker can starve the sweep.
	LockTTL time.Duration

	// Timeout is the maximum duration for one full sweep.
	Timeout time.Duration
}

// DefaultCheckGradesConfig returns sensible defaults.
func DefaultCheckGradesConfig() CheckGradesConfig {
	return CheckGradesConfig{
		LockTTL: 30 * time.Minute,
		Timeout: 10 * time.Minute,
	}
}

// SweepStats contains statistics from one sweep run.
type SweepStats struct {
	StartedAt       time.Time
	CompletedAt     time.Time
	Duration        time.Duration
	Activities      int
	SkippedUngraded int
	LearnersChecked int
	GradesWritten   int
	Failures        int
}

// NewCheckGradesJob creates a new sweep job.
func NewCheckGradesJob(
	activityRepo activity.Repository,
	userRepo user.Repository,
	gradebookRepo gradebook.Repository,
	grades *query.ComputeGradeHandler,
	checkpoints CheckpointStore,
	logger *slog.Logger,
	config CheckGradesConfig,
) *CheckGradesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 30 * time.Minute
	}

	return &CheckGradesJob{
		activityRepo: activityRepo,
		userRepo:     userRepo,
		gradebook:    gradebookRepo,
		grades:       grades,
		checkpoints:  checkpoints,
		logger:       logger,
		config:       config,
	}
}

// Name returns the job name.
func (j *CheckGradesJob) Name() string {
	return "check_grades"
}

// Description returns a human-readable description.
func (j *CheckGradesJob) Description() string {
	return "Pulls score evidence from the LRS into the gradebook"
}

// Run executes one sweep. When another worker holds the lock the run is
// skipped silently; the activities will be covered by that worker.
func (j *CheckGradesJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	token := uuid.NewString()
	if j.checkpoints != nil {
		acquired, err := j.checkpoints.AcquireLock(ctx, lockName, token, j.config.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !acquired {
			j.logger.Info("grade sweep already running elsewhere, skipping")
			return nil
		}
		defer func() {
			if err := j.checkpoints.ReleaseLock(context.WithoutCancel(ctx), lockName, token); err != nil {
				j.logger.Warn("failed to release sweep lock", "error", err)
			}
		}()
	}

	stats := &SweepStats{StartedAt: time.Now()}
	j.logger.Info("starting grade sweep")

	activities, err := j.activityRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("list activities: %w", err)
	}
	stats.Activities = len(activities)

	// Enrollment lookups are cached per course for the duration of the
	// sweep; several activities usually share a course.
	enrollments := make(map[int64][]*user.User)

	for _, act := range activities {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !act.Graded() {
			stats.SkippedUngraded++
			continue
		}

		learners, ok := enrollments[act.CourseID]
		if !ok {
			learners, err = j.userRepo.ListEnrolledByCourse(ctx, act.CourseID)
			if err != nil {
				j.logger.Error("failed to list enrollments",
					"activity_id", act.ID, "course_id", act.CourseID, "error", err)
				stats.Failures++
				continue
			}
			enrollments[act.CourseID] = learners
		}

		j.sweepActivity(ctx, act, learners, stats)

		if j.checkpoints != nil {
			if err := j.checkpoints.MarkChecked(ctx, act.ID, time.Now()); err != nil {
				j.logger.Warn("failed to record sweep checkpoint",
					"activity_id", act.ID, "error", err)
			}
		}
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastStats.Store(stats)

	j.logger.Info("grade sweep completed",
		"duration", stats.Duration.String(),
		"activities", stats.Activities,
		"learners", stats.LearnersChecked,
		"grades_written", stats.GradesWritten,
		"failures", stats.Failures,
	)
	return nil
}

// sweepActivity computes the grade for every enrolled learner on one
// activity. Failures are counted and logged per learner; the loop
// always continues.
func (j *CheckGradesJob) sweepActivity(ctx context.Context, act *activity.LaunchActivity, learners []*user.User, stats *SweepStats) {
	now := time.Now().UTC()

	for _, u := range learners {
		select {
		case <-ctx.Done():
			return
		default:
		}

		stats.LearnersChecked++

		result, err := j.grades.Handle(ctx, query.ComputeGradeQuery{
			ActivityID: act.ID,
			UserID:     u.ID,
			Now:        now,
		})
		if err != nil {
			if shared.IsNotApplicable(err) {
				continue
			}
			stats.Failures++
			j.logger.Error("grade computation failed",
				"activity_id", act.ID, "user_id", u.ID, "error", err)
			continue
		}

		// No derivable grade leaves any existing grade untouched.
		if result.Grade == nil {
			continue
		}

		raw := result.Grade.Raw
		err = j.gradebook.Upsert(ctx, gradebook.Item{
			ActivityID: act.ID,
			UserID:     u.ID,
			Raw:        &raw,
			Min:        result.Grade.Min,
			Max:        result.Grade.Max,
		})
		if err != nil {
			stats.Failures++
			j.logger.Error("gradebook write failed",
				"activity_id", act.ID, "user_id", u.ID, "error", err)
			continue
		}
		stats.GradesWritten++
	}
}

// LastStats returns statistics from the last sweep run.
func (j *CheckGradesJob) LastStats() *SweepStats {
	stats := j.lastStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*SweepStats)
}
