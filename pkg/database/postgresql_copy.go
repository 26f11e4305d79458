package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// insertRowsPostgreSQLCopy streams a dataset's rows into PostgreSQL with
// COPY so large uploads do not degrade into thousands of INSERT round
// trips.  The helper stays connection-local to avoid mutexes and lets
// the database enforce ordering.
func (d *Database) insertRowsPostgreSQLCopy(ctx context.Context, datasetID string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if d == nil || d.DB == nil {
		return fmt.Errorf("database unavailable")
	}

	conn, err := d.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open postgres connection: %w", err)
	}
	defer conn.Close()

	copyRows := make([][]interface{}, 0, len(rows))
	for i, row := range rows {
		cellsJSON, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encoding row %d of dataset %s: %w", i, datasetID, err)
		}
		copyRows = append(copyRows, []interface{}{datasetID, int64(i), string(cellsJSON)})
	}

	// Bound the COPY so a stalled connection cannot hold the save open
	// indefinitely.
	copyCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	copyErr := conn.Raw(func(driverConn any) error {
		direct, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected postgres driver %T", driverConn)
		}
		_, err := direct.Conn().CopyFrom(
			copyCtx,
			pgx.Identifier{"dataset_rows"},
			[]string{"dataset_id", "row_index", "cells_json"},
			pgx.CopyFromRows(copyRows),
		)
		return err
	})
	if copyErr != nil {
		return fmt.Errorf("copy rows of dataset %s: %w", datasetID, copyErr)
	}
	return nil
}
