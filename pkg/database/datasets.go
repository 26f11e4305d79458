package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Dataset is a stored tabular payload plus the role bindings its
// columns carry.  Cells are kept as JSON so numeric admin codes and
// string admin codes round-trip without the store flattening them.
type Dataset struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Columns   []DatasetColumn
	Rows      [][]any
}

// DatasetColumn mirrors a data-view column: a display name and the
// set of roles bound to it.
type DatasetColumn struct {
	Name  string
	Roles map[string]bool
}

// DatasetSummary is the listing shape: no rows, just enough to pick.
type DatasetSummary struct {
	ID        string
	Name      string
	CreatedAt time.Time
	RowCount  int
}

func (d *Database) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			columns_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS dataset_rows (
			dataset_id TEXT NOT NULL,
			row_index BIGINT NOT NULL,
			cells_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dataset_rows_dataset
			ON dataset_rows(dataset_id, row_index);`,
	}
	for _, stmt := range stmts {
		if _, err := d.DB.Exec(stmt); err != nil {
			return fmt.Errorf("preparing schema: %w", err)
		}
	}
	return nil
}

// SaveDataset stores the dataset in one transaction, replacing any
// previous payload stored under the same id.
func (d *Database) SaveDataset(ctx context.Context, ds Dataset) error {
	columnsJSON, err := json.Marshal(ds.Columns)
	if err != nil {
		return fmt.Errorf("encoding columns for dataset %s: %w", ds.ID, err)
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting save of dataset %s: %w", ds.ID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, d.rebind(`DELETE FROM dataset_rows WHERE dataset_id = ?`), ds.ID); err != nil {
		return fmt.Errorf("clearing rows of dataset %s: %w", ds.ID, err)
	}
	if _, err := tx.ExecContext(ctx, d.rebind(`DELETE FROM datasets WHERE id = ?`), ds.ID); err != nil {
		return fmt.Errorf("clearing dataset %s: %w", ds.ID, err)
	}

	createdAt := ds.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		d.rebind(`INSERT INTO datasets (id, name, created_at, columns_json) VALUES (?, ?, ?, ?)`),
		ds.ID, ds.Name, createdAt.Unix(), string(columnsJSON)); err != nil {
		return fmt.Errorf("inserting dataset %s: %w", ds.ID, err)
	}

	// PostgreSQL takes the rows over COPY after the metadata commits;
	// per-row INSERTs would turn a large upload into a round-trip storm.
	if d.Driver != "pgx" {
		insertRow := d.rebind(`INSERT INTO dataset_rows (dataset_id, row_index, cells_json) VALUES (?, ?, ?)`)
		for i, row := range ds.Rows {
			cellsJSON, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("encoding row %d of dataset %s: %w", i, ds.ID, err)
			}
			if _, err := tx.ExecContext(ctx, insertRow, ds.ID, int64(i), string(cellsJSON)); err != nil {
				return fmt.Errorf("inserting row %d of dataset %s: %w", i, ds.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dataset %s: %w", ds.ID, err)
	}
	if d.Driver == "pgx" {
		return d.insertRowsPostgreSQLCopy(ctx, ds.ID, ds.Rows)
	}
	return nil
}

// LoadDataset reads one dataset back, rows in their original order.
func (d *Database) LoadDataset(ctx context.Context, id string) (Dataset, error) {
	var ds Dataset
	var createdUnix int64
	var columnsJSON string
	err := d.DB.QueryRowContext(ctx,
		d.rebind(`SELECT id, name, created_at, columns_json FROM datasets WHERE id = ?`), id).
		Scan(&ds.ID, &ds.Name, &createdUnix, &columnsJSON)
	if err == sql.ErrNoRows {
		return Dataset{}, fmt.Errorf("dataset %s not found", id)
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("loading dataset %s: %w", id, err)
	}
	ds.CreatedAt = time.Unix(createdUnix, 0)
	if err := json.Unmarshal([]byte(columnsJSON), &ds.Columns); err != nil {
		return Dataset{}, fmt.Errorf("decoding columns of dataset %s: %w", id, err)
	}

	rows, err := d.DB.QueryContext(ctx,
		d.rebind(`SELECT cells_json FROM dataset_rows WHERE dataset_id = ? ORDER BY row_index`), id)
	if err != nil {
		return Dataset{}, fmt.Errorf("loading rows of dataset %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var cellsJSON string
		if err := rows.Scan(&cellsJSON); err != nil {
			return Dataset{}, fmt.Errorf("scanning row of dataset %s: %w", id, err)
		}
		var cells []any
		if err := json.Unmarshal([]byte(cellsJSON), &cells); err != nil {
			return Dataset{}, fmt.Errorf("decoding row of dataset %s: %w", id, err)
		}
		ds.Rows = append(ds.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return Dataset{}, fmt.Errorf("iterating rows of dataset %s: %w", id, err)
	}
	return ds, nil
}

// ListDatasets returns summaries newest first.
func (d *Database) ListDatasets(ctx context.Context) ([]DatasetSummary, error) {
	rows, err := d.DB.QueryContext(ctx, d.rebind(`
		SELECT d.id, d.name, d.created_at,
		       (SELECT COUNT(*) FROM dataset_rows r WHERE r.dataset_id = d.id)
		FROM datasets d
		ORDER BY d.created_at DESC`))
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	defer rows.Close()

	var out []DatasetSummary
	for rows.Next() {
		var s DatasetSummary
		var createdUnix int64
		if err := rows.Scan(&s.ID, &s.Name, &createdUnix, &s.RowCount); err != nil {
			return nil, fmt.Errorf("scanning dataset summary: %w", err)
		}
		s.CreatedAt = time.Unix(createdUnix, 0)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dataset summaries: %w", err)
	}
	return out, nil
}
