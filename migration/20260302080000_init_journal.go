package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upInitJournal, downInitJournal)
}

var initJournalTables = []string{
	`CREATE TABLE user_states (
		id UUID PRIMARY KEY,
		user_id BIGINT NOT NULL,
		state VARCHAR(64) NOT NULL,
		payload JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX idx_user_states_user_id_created_at ON user_states(user_id, created_at DESC);`,

	`CREATE TABLE working_days (
		id UUID PRIMARY KEY,
		user_id BIGINT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		date DATE NOT NULL
	);`,
	`CREATE INDEX idx_working_days_user_id ON working_days(user_id);`,

	`CREATE TABLE work_days (
		id UUID PRIMARY KEY,
		user_id BIGINT NOT NULL,
		vehicle VARCHAR(255) NOT NULL DEFAULT '',
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		date DATE NOT NULL
	);`,
	`CREATE INDEX idx_work_days_user_id_date ON work_days(user_id, date);`,

	`CREATE TABLE projects (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		external_source VARCHAR(64),
		external_id VARCHAR(255),
		external_id_label VARCHAR(255),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT uq_projects_name UNIQUE (name)
	);`,

	`CREATE TABLE trips (
		id UUID PRIMARY KEY,
		work_day_id UUID NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		start_location VARCHAR(255) NOT NULL DEFAULT '',
		end_location VARCHAR(255) NOT NULL,
		distance_km DOUBLE PRECISION NOT NULL,
		project_id UUID,
		CONSTRAINT fk_trips_work_day
			FOREIGN KEY(work_day_id)
			REFERENCES work_days(id)
			ON UPDATE CASCADE,
		CONSTRAINT fk_trips_project
			FOREIGN KEY(project_id)
			REFERENCES projects(id)
			ON UPDATE CASCADE
	);`,
	`CREATE INDEX idx_trips_work_day_id ON trips(work_day_id);`,

	`CREATE TABLE activities (
		id UUID PRIMARY KEY,
		work_day_id UUID NOT NULL,
		project_id UUID NOT NULL,
		activity_type VARCHAR(32) NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		duration_minutes INTEGER NOT NULL,
		CONSTRAINT fk_activities_work_day
			FOREIGN KEY(work_day_id)
			REFERENCES work_days(id)
			ON UPDATE CASCADE,
		CONSTRAINT fk_activities_project
			FOREIGN KEY(project_id)
			REFERENCES projects(id)
			ON UPDATE CASCADE
	);`,
	`CREATE INDEX idx_activities_work_day_id ON activities(work_day_id);`,

	`CREATE TABLE shopping_sessions (
		id UUID PRIMARY KEY,
		work_day_id UUID NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		project_ids TEXT[] NOT NULL,
		CONSTRAINT fk_shopping_sessions_work_day
			FOREIGN KEY(work_day_id)
			REFERENCES work_days(id)
			ON UPDATE CASCADE
	);`,
	`CREATE INDEX idx_shopping_sessions_work_day_id ON shopping_sessions(work_day_id);`,

	`CREATE TABLE idle_times (
		id UUID PRIMARY KEY,
		work_day_id UUID NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		project_ids TEXT[] NOT NULL,
		CONSTRAINT fk_idle_times_work_day
			FOREIGN KEY(work_day_id)
			REFERENCES work_days(id)
			ON UPDATE CASCADE
	);`,
	`CREATE INDEX idx_idle_times_work_day_id ON idle_times(work_day_id);`,

	`CREATE TABLE fuel_purchases (
		id UUID PRIMARY KEY,
		work_day_id UUID NOT NULL,
		user_id BIGINT NOT NULL,
		vehicle VARCHAR(255) NOT NULL,
		odometer_photo_ref VARCHAR(255) NOT NULL DEFAULT '',
		odometer_reading DOUBLE PRECISION NOT NULL DEFAULT 0,
		receipt_photo_ref VARCHAR(255) NOT NULL DEFAULT '',
		liters DOUBLE PRECISION NOT NULL,
		amount NUMERIC(12,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT fk_fuel_purchases_work_day
			FOREIGN KEY(work_day_id)
			REFERENCES work_days(id)
			ON UPDATE CASCADE
	);`,
	`CREATE INDEX idx_fuel_purchases_work_day_id ON fuel_purchases(work_day_id);`,
}

func upInitJournal(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range initJournalTables {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func downInitJournal(ctx context.Context, tx *sql.Tx) error {
	// children first, foreign keys block the reverse order
	for _, table := range []string{"fuel_purchases", "idle_times", "shopping_sessions", "activities", "trips", "projects", "work_days", "working_days", "user_states"} {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+table+`;`); err != nil {
			return err
		}
	}
	return nil
}
