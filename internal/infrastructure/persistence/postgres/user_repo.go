package postgres

import (
	"context"

	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/internal/domain/user"
)

// UserRepository reads users and course enrollments.
type UserRepository struct {
	conn *Connection
}

// NewUserRepository creates a new repository.
func NewUserRepository(conn *Connection) *UserRepository {
	return &UserRepository{conn: conn}
}

const userColumns = `
	id, username, email, first_name, last_name, id_number, lang, profile_fields`

// GetByID fetches a single user.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	row := r.conn.Pool().QueryRow(ctx,
		"SELECT"+userColumns+" FROM users WHERE id = $1", id)

	u, err := scanUser(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("postgres", "GetByID", shared.ErrNotFound, "user not found")
		}
		return nil, shared.WrapError("postgres", "GetByID", shared.ErrValidation, "scan user", err)
	}
	return u, nil
}

// ListEnrolledByCourse returns the users enrolled in a course, ordered
// by id. The grade sweep iterates this set.
func (r *UserRepository) ListEnrolledByCourse(ctx context.Context, courseID int64) ([]*user.User, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT`+userColumns+`
		FROM users u
		JOIN enrollments e ON e.user_id = u.id
		WHERE e.course_id = $1
		ORDER BY u.id`, courseID)
	if err != nil {
		return nil, shared.WrapError("postgres", "ListEnrolledByCourse", shared.ErrValidation, "query enrollments", err)
	}
	defer rows.Close()

	var users []*user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, shared.WrapError("postgres", "ListEnrolledByCourse", shared.ErrValidation, "scan user", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Create inserts a user, assigning its ID. Used by provisioning and tests.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	if u.ProfileFields == nil {
		u.ProfileFields = map[string]string{}
	}
	err := r.conn.Pool().QueryRow(ctx, `
		INSERT INTO users (username, email, first_name, last_name, id_number, lang, profile_fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		u.Username, u.Email, u.FirstName, u.LastName, u.IDNumber, u.Lang, u.ProfileFields,
	).Scan(&u.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("postgres", "Create", shared.ErrAlreadyExists, "username taken")
		}
		return shared.WrapError("postgres", "Create", shared.ErrValidation, "insert user", err)
	}
	return nil
}

// Enroll adds a user to a course; enrolling twice is a no-op.
func (r *UserRepository) Enroll(ctx context.Context, courseID, userID int64) error {
	_, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO enrollments (course_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, courseID, userID)
	if err != nil {
		return shared.WrapError("postgres", "Enroll", shared.ErrValidation, "insert enrollment", err)
	}
	return nil
}

func scanUser(row rowScanner) (*user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
		&u.IDNumber, &u.Lang, &u.ProfileFields)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
