package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAddVehicleFuel, downAddVehicleFuel)
}

func upAddVehicleFuel(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE vehicle_fuel (
			vehicle VARCHAR(255) PRIMARY KEY,
			tank_capacity DOUBLE PRECISION NOT NULL,
			current_fuel DOUBLE PRECISION NOT NULL,
			fuel_cost_in_tank NUMERIC(14,4) NOT NULL,
			consumption_per_100km DOUBLE PRECISION NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

func downAddVehicleFuel(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS vehicle_fuel;`)
	return err
}
