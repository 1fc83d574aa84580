package database

import (
	"context"
	"fmt"
	"strings"

	"agrireg/internal/querysql"
)

// DumpSchema returns the applied schema as text, excluding the migration
// bookkeeping table.
func (s *Store) DumpSchema(ctx context.Context) (string, error) {
	if s.dialect == querysql.Postgres {
		return s.dumpPostgres(ctx)
	}
	return s.dumpSQLite(ctx)
}

// dumpSQLite queries sqlite_master for all CREATE statements, excluding
// SQLite internal tables and the migration tracking table.
func (s *Store) dumpSQLite(ctx context.Context) (string, error) {
	query := `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		  END,
		  name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var schema strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scan failed: %w", err)
		}
		schema.WriteString(stmt)
		schema.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows error: %w", err)
	}
	return schema.String(), nil
}

func (s *Store) dumpPostgres(ctx context.Context) (string, error) {
	query := `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		  AND table_name != 'schema_migrations'
		ORDER BY table_name, ordinal_position
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var schema strings.Builder
	current := ""
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return "", fmt.Errorf("scan failed: %w", err)
		}
		if table != current {
			if current != "" {
				schema.WriteString("\n")
			}
			fmt.Fprintf(&schema, "%s\n", table)
			current = table
		}
		null := ""
		if nullable == "NO" {
			null = " NOT NULL"
		}
		fmt.Fprintf(&schema, "  %s %s%s\n", column, dataType, null)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows error: %w", err)
	}
	return schema.String(), nil
}
