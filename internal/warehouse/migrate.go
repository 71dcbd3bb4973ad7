package warehouse

// Operational tables the pipeline owns outright. Analytical DDL (the star
// schema itself and dim_date population) is managed outside the pipeline;
// these are the bookkeeping tables the pipeline cannot run without.

import (
	"context"
	"database/sql"
	"fmt"
)

var operationalDDL = []string{
	`CREATE TABLE IF NOT EXISTS dim_client (
		client_id       TEXT PRIMARY KEY,
		display_name    TEXT NOT NULL DEFAULT '',
		realm_id        TEXT NOT NULL DEFAULT '',
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		needs_reconsent BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS security_user_client_map (
		user_principal TEXT NOT NULL,
		client_id      TEXT NOT NULL,
		PRIMARY KEY (user_principal, client_id)
	)`,
	`CREATE TABLE IF NOT EXISTS etl_watermark (
		client_id TEXT NOT NULL,
		entity    TEXT NOT NULL,
		since_ts  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (client_id, entity)
	)`,
}

const reportDDL = `CREATE TABLE IF NOT EXISTS %s (
	client_id    TEXT NOT NULL,
	report_name  TEXT NOT NULL DEFAULT '',
	section      TEXT NOT NULL DEFAULT '',
	row_type     TEXT NOT NULL DEFAULT '',
	row_label    TEXT,
	col_title    TEXT,
	col_value    TEXT,
	start_period TEXT,
	end_period   TEXT
)`

// Migrate creates the operational tables plus one long-format table per
// report. Statements are idempotent; running twice is safe.
func Migrate(ctx context.Context, db *sql.DB, reportTables []string) error {
	for _, stmt := range operationalDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate operational tables: %w", err)
		}
	}
	for _, table := range reportTables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(reportDDL, table)); err != nil {
			return fmt.Errorf("migrate report table %s: %w", table, err)
		}
	}
	return nil
}
