package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/seanankenbruck/database-ai/internal/config"
)

// Postgres is the relational backend. All query execution goes through a
// per-session statement_timeout so a runaway query cannot hold a connection.
type Postgres struct {
	db           *sql.DB
	database     string
	queryTimeout time.Duration
}

// NewPostgres opens a pooled connection and verifies it with a ping
func NewPostgres(cfg config.PostgresConfig, queryTimeout time.Duration) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{
		db:           db,
		database:     cfg.Database,
		queryTimeout: queryTimeout,
	}, nil
}

// Ping tests the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Query executes a single read-only statement and returns the rows as maps.
// The statement runs under a session statement_timeout derived from the
// configured query timeout.
func (p *Postgres) Query(ctx context.Context, sqlText string) (*Result, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	// statement_timeout = 0 would disable the timeout entirely
	timeoutMillis := p.queryTimeout.Milliseconds()
	if timeoutMillis <= 0 {
		timeoutMillis = 30000
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = %d", timeoutMillis)); err != nil {
		return nil, fmt.Errorf("failed to set statement timeout: %w", err)
	}

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Tables lists the base tables in the public schema
func (p *Postgres) Tables(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	return tables, nil
}

// TableInfo introspects one table: columns with primary key markers, foreign
// keys, and a row count
func (p *Postgres) TableInfo(ctx context.Context, table string) (*TableInfo, error) {
	columns, err := p.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	primaryKeys, err := p.primaryKeyColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	for i := range columns {
		if _, ok := primaryKeys[columns[i].Name]; ok {
			columns[i].PrimaryKey = true
		}
	}

	foreignKeys, err := p.foreignKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	var rowCount int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)
	if err := p.db.QueryRowContext(ctx, countQuery).Scan(&rowCount); err != nil {
		return nil, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}

	return &TableInfo{
		Name:        table,
		Columns:     columns,
		ForeignKeys: foreignKeys,
		RowCount:    rowCount,
	}, nil
}

func (p *Postgres) tableColumns(ctx context.Context, table string) ([]Column, error) {
	query := `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position
	`

	rows, err := p.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns for %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	return columns, nil
}

func (p *Postgres) primaryKeyColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	query := `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = 'public'
		  AND tc.table_name = $1
		  AND tc.constraint_type = 'PRIMARY KEY'
	`

	rows, err := p.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary keys for %s: %w", table, err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan primary key row: %w", err)
		}
		keys[name] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating primary keys: %w", err)
	}

	return keys, nil
}

func (p *Postgres) foreignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	query := `
		SELECT kcu.column_name,
		       ccu.table_name AS referred_table,
		       ccu.column_name AS referred_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name
		 AND tc.table_schema = ccu.table_schema
		WHERE tc.table_schema = 'public'
		  AND tc.table_name = $1
		  AND tc.constraint_type = 'FOREIGN KEY'
	`

	rows, err := p.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys for %s: %w", table, err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferredTable, &fk.ReferredColumn); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key row: %w", err)
		}
		fks = append(fks, fk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating foreign keys: %w", err)
	}

	return fks, nil
}

// SchemaText renders the full schema as the plain-text description used in
// generation prompts
func (p *Postgres) SchemaText(ctx context.Context) (string, error) {
	tables, err := p.Tables(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "PostgreSQL Database: %s\n\n", p.database)

	for _, table := range tables {
		info, err := p.TableInfo(ctx, table)
		if err != nil {
			return "", err
		}

		fmt.Fprintf(&b, "Table: %s\n", info.Name)
		fmt.Fprintf(&b, "  Row Count: %d\n", info.RowCount)
		b.WriteString("  Columns:\n")
		for _, col := range info.Columns {
			pkMarker := ""
			if col.PrimaryKey {
				pkMarker = " (PK)"
			}
			fmt.Fprintf(&b, "    - %s: %s%s\n", col.Name, col.DataType, pkMarker)
		}

		if len(info.ForeignKeys) > 0 {
			b.WriteString("  Foreign Keys:\n")
			for _, fk := range info.ForeignKeys {
				fmt.Fprintf(&b, "    - %s -> %s.%s\n", fk.Column, fk.ReferredTable, fk.ReferredColumn)
			}
		}

		b.WriteString("\n")
	}

	return b.String(), nil
}

// scanRows converts a generic result set into row maps. Byte slices are
// rendered as strings since lib/pq returns text and numeric columns as []byte.
func scanRows(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	out := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &Result{Rows: out, RowCount: len(out)}, nil
}
