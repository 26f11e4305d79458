package drivers

import (
	// The pgx stdlib adapter registers itself under the "pgx" name, which
	// is exactly the value the -db-type flag accepts for PostgreSQL.
	_ "github.com/jackc/pgx/v5/stdlib"
)
