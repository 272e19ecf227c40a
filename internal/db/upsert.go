package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ErrInvalidUpsertConfig marks an UpsertConfig that can never produce a
// valid statement. It is a programming error and is not retried.
var ErrInvalidUpsertConfig = eris.New("db: invalid upsert config")

// UpsertConfig describes a bulk upsert.
type UpsertConfig struct {
	Table        string   // schema-qualified target, e.g. "luma.linkedin_profiles"
	Columns      []string // columns supplied by each row, in row order
	ConflictKeys []string // unique constraint columns; must appear in Columns
	UpdateCols   []string // columns overwritten on conflict; nil means every non-key column
	TouchCols    []string // columns set to now() on insert and on conflict
}

func (c UpsertConfig) validate() error {
	if len(c.Columns) == 0 {
		return eris.Wrapf(ErrInvalidUpsertConfig, "%s: no columns specified", c.Table)
	}
	if len(c.ConflictKeys) == 0 {
		return eris.Wrapf(ErrInvalidUpsertConfig, "%s: no conflict keys specified", c.Table)
	}
	for _, k := range c.ConflictKeys {
		if !slices.Contains(c.Columns, k) {
			return eris.Wrapf(ErrInvalidUpsertConfig, "%s: conflict key %q not among columns", c.Table, k)
		}
	}
	return nil
}

func (c UpsertConfig) updateCols() []string {
	if c.UpdateCols != nil {
		return c.UpdateCols
	}
	var cols []string
	for _, col := range c.Columns {
		if !slices.Contains(c.ConflictKeys, col) {
			cols = append(cols, col)
		}
	}
	return cols
}

func (c UpsertConfig) tempTable() string {
	return "_tmp_upsert_" + strings.ReplaceAll(c.Table, ".", "_")
}

// mergeSQL builds the INSERT ... SELECT ... ON CONFLICT statement that moves
// staged rows into the target.
func (c UpsertConfig) mergeSQL() string {
	insertCols := quoteAndJoin(append(slices.Clone(c.Columns), c.TouchCols...))
	selectCols := quoteAndJoin(c.Columns)
	for range c.TouchCols {
		selectCols += ", now()"
	}

	var set []string
	for _, col := range c.updateCols() {
		id := pgx.Identifier{col}.Sanitize()
		set = append(set, id+" = EXCLUDED."+id)
	}
	for _, col := range c.TouchCols {
		set = append(set, pgx.Identifier{col}.Sanitize()+" = now()")
	}

	action := "DO NOTHING"
	if len(set) > 0 {
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		sanitizeTable(c.Table),
		insertCols,
		selectCols,
		pgx.Identifier{c.tempTable()}.Sanitize(),
		quoteAndJoin(c.ConflictKeys),
		action,
	)
}

// BulkUpsert stages rows in a temp table with COPY and merges them into the
// target in one transaction. Either every row lands or none does.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if err := cfg.validate(); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tmp := pgx.Identifier{cfg.tempTable()}
	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		tmp.Sanitize(), sanitizeTable(cfg.Table))
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, tmp, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy into temp table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, cfg.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes a possibly schema-qualified table name.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
