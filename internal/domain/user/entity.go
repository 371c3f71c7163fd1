// Package user contains the learner profile as seen by this service.
// Profiles are owned by the host LMS; this package only models the fields
// needed to build xAPI identities and sync agent profiles.
package user

import (
	"context"
	"strings"
)

// User is a learner profile record.
type User struct {
	// ID is the host LMS user id.
	ID int64

	// Username is the host login name.
	Username string

	// Email is the learner's email address (may be empty).
	Email string

	// FirstName and LastName make up the display name.
	FirstName string
	LastName  string

	// IDNumber is an institution-assigned identifier, used for
	// custom-account xAPI identities when configured.
	IDNumber string

	// Lang is the learner's preferred language code (e.g. "en", "kk").
	Lang string

	// ProfileFields holds custom profile field values keyed by
	// lowercase shortname. Synced to the LRS agent profile on launch.
	ProfileFields map[string]string
}

// FullName returns the learner's display name, falling back to the
// username when no name parts are set.
func (u *User) FullName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Username
	}
	return name
}

// Repository provides access to learner profiles and enrollments.
type Repository interface {
	// GetByID fetches a single user by host LMS id.
	GetByID(ctx context.Context, id int64) (*User, error)

	// ListEnrolledByCourse returns the active enrolled users of a course.
	ListEnrolledByCourse(ctx context.Context, courseID int64) ([]*User, error)
}
