package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/transform"
)

// Counts summarizes one batch load.
type Counts struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Add accumulates another batch's counts.
func (c *Counts) Add(other Counts) {
	c.Inserted += other.Inserted
	c.Updated += other.Updated
	c.Unchanged += other.Unchanged
}

// LoadConflictError means a batch transaction failed and was rolled back in
// full. The batch is retried on the next scheduled run.
type LoadConflictError struct {
	Table string
	Err   error
}

func (e *LoadConflictError) Error() string {
	return fmt.Sprintf("load failed for table %s, batch rolled back: %v", e.Table, e.Err)
}

func (e *LoadConflictError) Unwrap() error { return e.Err }

// Loader writes mapped rows into the star schema. Loads are idempotent: a row
// whose natural key already exists is updated only when a non-key column
// differs, so re-applying the same batch is a no-op.
type Loader struct {
	db  *sql.DB
	log zerolog.Logger

	rangeOnce sync.Once
	rangeErr  error
	minKey    int
	maxKey    int
}

// NewLoader creates a Loader over the warehouse connection.
func NewLoader(db *sql.DB, log zerolog.Logger) *Loader {
	return &Loader{db: db, log: log}
}

// Upsert loads one batch into a table inside a single transaction. Any
// failure rolls the whole batch back and returns *LoadConflictError.
func (l *Loader) Upsert(ctx context.Context, table Table, rows []transform.Row) (Counts, error) {
	var counts Counts
	if len(rows) == 0 {
		return counts, nil
	}

	if err := l.checkDateKeys(ctx, table, rows); err != nil {
		return counts, err
	}

	keyCols := table.KeyColumns
	valueCols := nonKeyColumns(rows[0], keyCols)

	existsSQL := buildExists(table.Name, keyCols)
	insertSQL := buildInsert(table.Name, keyCols, valueCols)
	updateSQL := buildUpdate(table.Name, keyCols, valueCols)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Counts{}, &LoadConflictError{Table: table.Name, Err: err}
	}
	defer tx.Rollback()

	for _, row := range rows {
		keyArgs := args(row, keyCols)

		var one int
		err := tx.QueryRowContext(ctx, existsSQL, keyArgs...).Scan(&one)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, insertSQL, append(keyArgs, args(row, valueCols)...)...); err != nil {
				return Counts{}, &LoadConflictError{Table: table.Name, Err: err}
			}
			counts.Inserted++

		case err != nil:
			return Counts{}, &LoadConflictError{Table: table.Name, Err: err}

		default:
			res, err := tx.ExecContext(ctx, updateSQL, append(args(row, valueCols), keyArgs...)...)
			if err != nil {
				return Counts{}, &LoadConflictError{Table: table.Name, Err: err}
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return Counts{}, &LoadConflictError{Table: table.Name, Err: err}
			}
			if affected > 0 {
				counts.Updated++
			} else {
				counts.Unchanged++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Counts{}, &LoadConflictError{Table: table.Name, Err: err}
	}

	l.log.Info().
		Str("table", table.Name).
		Int("inserted", counts.Inserted).
		Int("updated", counts.Updated).
		Int("unchanged", counts.Unchanged).
		Msg("batch loaded")
	return counts, nil
}

// ReplaceReport swaps a tenant's report snapshot: delete then insert inside
// one transaction. Report tables have no stable natural key, so idempotence
// comes from full replacement.
func (l *Loader) ReplaceReport(ctx context.Context, table, clientID string, rows []transform.Row) (int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &LoadConflictError{Table: table, Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE client_id = $1", table), clientID); err != nil {
		return 0, &LoadConflictError{Table: table, Err: err}
	}

	if len(rows) > 0 {
		cols := sortedColumns(rows[0])
		insertSQL := buildInsert(table, nil, cols)
		for _, row := range rows {
			if _, err := tx.ExecContext(ctx, insertSQL, args(row, cols)...); err != nil {
				return 0, &LoadConflictError{Table: table, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &LoadConflictError{Table: table, Err: err}
	}

	l.log.Info().Str("table", table).Int("rows", len(rows)).Str("client_id", clientID).Msg("report replaced")
	return len(rows), nil
}

const selectDateRange = `SELECT COALESCE(MIN(date_key), 0), COALESCE(MAX(date_key), 0) FROM dim_date`

// checkDateKeys verifies every *_date_key on fact rows falls inside the
// populated dim_date range. Out-of-range dates abort the batch before the
// transaction opens.
func (l *Loader) checkDateKeys(ctx context.Context, table Table, rows []transform.Row) error {
	if !strings.HasPrefix(table.Name, "fact_") {
		return nil
	}

	var keyCols []string
	for col := range rows[0] {
		if strings.HasSuffix(col, "_date_key") {
			keyCols = append(keyCols, col)
		}
	}
	if len(keyCols) == 0 {
		return nil
	}

	l.rangeOnce.Do(func() {
		l.rangeErr = l.db.QueryRowContext(ctx, selectDateRange).Scan(&l.minKey, &l.maxKey)
	})
	if l.rangeErr != nil {
		return fmt.Errorf("read dim_date range: %w", l.rangeErr)
	}

	for _, row := range rows {
		for _, col := range keyCols {
			key, ok := row[col].(int)
			if !ok {
				continue
			}
			if l.minKey == 0 && l.maxKey == 0 {
				return fmt.Errorf("table %s: %s=%d but dim_date is not populated", table.Name, col, key)
			}
			if key < l.minKey || key > l.maxKey {
				return fmt.Errorf("table %s: %s=%d outside dim_date range [%d, %d]", table.Name, col, key, l.minKey, l.maxKey)
			}
		}
	}
	return nil
}

func nonKeyColumns(row transform.Row, keyCols []string) []string {
	keys := make(map[string]bool, len(keyCols))
	for _, k := range keyCols {
		keys[k] = true
	}
	var cols []string
	for col := range row {
		if !keys[col] {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)
	return cols
}

func sortedColumns(row transform.Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func args(row transform.Row, cols []string) []any {
	out := make([]any, len(cols))
	for i, col := range cols {
		out[i] = row[col]
	}
	return out
}

func buildExists(table string, keyCols []string) string {
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s", table, wherePlaceholders(keyCols, 1))
}

func buildInsert(table string, keyCols, valueCols []string) string {
	cols := append(append([]string{}, keyCols...), valueCols...)
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
}

// buildUpdate guards the SET with IS DISTINCT FROM so an identical row
// affects zero rows and counts as unchanged.
func buildUpdate(table string, keyCols, valueCols []string) string {
	sets := make([]string, len(valueCols))
	distinct := make([]string, len(valueCols))
	for i, col := range valueCols {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
		distinct[i] = fmt.Sprintf("%s IS DISTINCT FROM $%d", col, i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s AND (%s)",
		table,
		strings.Join(sets, ", "),
		wherePlaceholders(keyCols, len(valueCols)+1),
		strings.Join(distinct, " OR "))
}

func wherePlaceholders(cols []string, start int) string {
	conds := make([]string, len(cols))
	for i, col := range cols {
		conds[i] = fmt.Sprintf("%s = $%d", col, start+i)
	}
	return strings.Join(conds, " AND ")
}
