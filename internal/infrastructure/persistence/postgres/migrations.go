package postgres

// migration is one versioned schema step.
type migration struct {
	version int
	name    string
	sql     string
}

// migrations returns the embedded schema in order.
func migrations() []migration {
	return []migration{
		{version: 1, name: "create_activities", sql: migration001},
		{version: 2, name: "create_users", sql: migration002},
		{version: 3, name: "create_grade_items", sql: migration003},
	}
}

const migration001 = `
CREATE TABLE IF NOT EXISTS activities (
	id                BIGSERIAL PRIMARY KEY,
	course_id         BIGINT NOT NULL,
	name              TEXT NOT NULL,
	activity_iri      TEXT NOT NULL,
	launch_url        TEXT NOT NULL,
	completion_verb   TEXT NOT NULL DEFAULT '',
	grade_type        TEXT NOT NULL DEFAULT 'none',
	grade_aggregation TEXT NOT NULL DEFAULT 'most_recent',
	expiry_days       INTEGER NOT NULL DEFAULT 0,
	override_defaults BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_activities_course ON activities (course_id);

CREATE TABLE IF NOT EXISTS activity_lrs_overrides (
	activity_id              BIGINT PRIMARY KEY REFERENCES activities (id) ON DELETE CASCADE,
	endpoint                 TEXT NOT NULL,
	username                 TEXT NOT NULL,
	password_sealed          TEXT NOT NULL,
	custom_account_home_page TEXT NOT NULL DEFAULT '',
	use_email_identity       BOOLEAN NOT NULL DEFAULT FALSE
);
`

const migration002 = `
CREATE TABLE IF NOT EXISTS users (
	id             BIGSERIAL PRIMARY KEY,
	username       TEXT NOT NULL UNIQUE,
	email          TEXT NOT NULL DEFAULT '',
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT '',
	id_number      TEXT NOT NULL DEFAULT '',
	lang           TEXT NOT NULL DEFAULT 'en',
	profile_fields JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS enrollments (
	course_id BIGINT NOT NULL,
	user_id   BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	PRIMARY KEY (course_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_enrollments_course ON enrollments (course_id);
`

const migration003 = `
CREATE TABLE IF NOT EXISTS grade_items (
	activity_id BIGINT NOT NULL REFERENCES activities (id) ON DELETE CASCADE,
	user_id     BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	raw_grade   DOUBLE PRECISION,
	grade_min   DOUBLE PRECISION NOT NULL DEFAULT 0,
	grade_max   DOUBLE PRECISION NOT NULL DEFAULT 100,
	updated_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	PRIMARY KEY (activity_id, user_id)
);
`
