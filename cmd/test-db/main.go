package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/seanankenbruck/database-ai/internal/config"
	"github.com/seanankenbruck/database-ai/internal/database"
	"github.com/seanankenbruck/database-ai/internal/format"
	"github.com/seanankenbruck/database-ai/internal/memory"
	"github.com/seanankenbruck/database-ai/internal/store"
)

func main() {
	ctx := context.Background()
	cfg := config.NewDefaultLoader().MustLoad(ctx)

	fmt.Println("=== Database Agent Store Test ===")
	fmt.Printf("Connecting to database: %s@%s:%s/%s\n",
		cfg.Postgres.Username, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)

	// Test 1: Database connectivity and migration
	fmt.Println("\n1. Testing database connectivity and migration...")
	if err := testDatabaseSetup(cfg); err != nil {
		log.Fatalf("Database setup failed: %v", err)
	}
	fmt.Println("✓ Database setup successful")

	// Test 2: Initialize PostgreSQL store
	fmt.Println("\n2. Initializing PostgreSQL store...")
	pg, err := store.NewPostgres(cfg.Postgres, cfg.Safety.QueryTimeout)
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL store: %v", err)
	}
	defer pg.Close()
	fmt.Println("✓ PostgreSQL store initialized")

	// Test 3: Table introspection
	fmt.Println("\n3. Testing table introspection...")
	tables, err := testTableIntrospection(ctx, pg)
	if err != nil {
		log.Fatalf("Table introspection failed: %v", err)
	}
	fmt.Printf("✓ Introspected %d tables\n", len(tables))

	// Test 4: Schema context
	fmt.Println("\n4. Testing schema context generation...")
	if err := testSchemaContext(ctx, pg); err != nil {
		log.Fatalf("Schema context failed: %v", err)
	}
	fmt.Println("✓ Schema context generated")

	// Test 5: Query execution through the dispatcher
	fmt.Println("\n5. Testing query execution...")
	dispatcher := store.NewDispatcher(pg, nil, cfg.Safety.BlockedSQLKeywords)
	if err := testQueryExecution(ctx, dispatcher); err != nil {
		log.Fatalf("Query execution failed: %v", err)
	}
	fmt.Println("✓ Query execution working")

	// Test 6: Safety gate
	fmt.Println("\n6. Testing the safety gate...")
	if err := testSafetyGate(ctx, dispatcher); err != nil {
		log.Fatalf("Safety gate test failed: %v", err)
	}
	fmt.Println("✓ Write statements rejected")

	// Test 7: MongoDB store (optional)
	if cfg.Mongo.Configured() {
		fmt.Println("\n7. Testing MongoDB store...")
		if err := testMongoStore(ctx, cfg); err != nil {
			log.Fatalf("MongoDB tests failed: %v", err)
		}
		fmt.Println("✓ MongoDB store working")
	} else {
		fmt.Println("\n7. Skipping MongoDB store (MONGODB_URI not set)")
	}

	// Test 8: Query memory round trip
	fmt.Println("\n8. Testing query memory...")
	if err := testQueryMemory(ctx, cfg); err != nil {
		log.Fatalf("Query memory tests failed: %v", err)
	}
	fmt.Println("✓ Query memory working")

	fmt.Println("\n🎉 All store tests passed successfully!")
	fmt.Println("\nDatabase contents:")
	if err := printDatabaseSummary(ctx, pg, tables); err != nil {
		log.Printf("Warning: Failed to print summary: %v", err)
	}
}

func testDatabaseSetup(cfg *config.Config) error {
	if err := database.Verify(cfg.Postgres); err != nil {
		return fmt.Errorf("failed to verify database connectivity: %w", err)
	}

	migrationConfig := database.MigrationConfig{
		DatabaseURL:    cfg.Postgres.DSN(),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),
	}

	if err := database.RunMigrations(migrationConfig); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func testTableIntrospection(ctx context.Context, pg *store.Postgres) ([]string, error) {
	tables, err := pg.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("Tables failed: %w", err)
	}
	for _, table := range tables {
		fmt.Printf("  Found table: %s\n", table)
	}

	if len(tables) > 0 {
		info, err := pg.TableInfo(ctx, tables[0])
		if err != nil {
			return nil, fmt.Errorf("TableInfo failed for %s: %w", tables[0], err)
		}
		fmt.Printf("  %s: %d columns, %d foreign keys, %d rows\n",
			info.Name, len(info.Columns), len(info.ForeignKeys), info.RowCount)
	}

	return tables, nil
}

func testSchemaContext(ctx context.Context, pg *store.Postgres) error {
	schema, err := pg.SchemaText(ctx)
	if err != nil {
		return fmt.Errorf("SchemaText failed: %w", err)
	}
	if schema == "" {
		return fmt.Errorf("schema context is empty")
	}
	fmt.Printf("  Schema context: %d characters\n", len(schema))
	return nil
}

func testQueryExecution(ctx context.Context, dispatcher *store.Dispatcher) error {
	result, err := dispatcher.Execute(ctx, store.OpPostgresQuery, store.Args{
		SQL: "SELECT name, city FROM customers ORDER BY name LIMIT 5",
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Printf("  Returned %d rows\n", result.RowCount)
	fmt.Println(indent(format.Results(result, 5), "  "))
	return nil
}

func testSafetyGate(ctx context.Context, dispatcher *store.Dispatcher) error {
	writes := []string{
		"DELETE FROM customers",
		"UPDATE products SET price = 0",
		"DROP TABLE orders",
	}

	for _, stmt := range writes {
		if _, err := dispatcher.Execute(ctx, store.OpPostgresQuery, store.Args{SQL: stmt}); err == nil {
			return fmt.Errorf("statement was not rejected: %s", stmt)
		}
		fmt.Printf("  Rejected: %s\n", stmt)
	}

	return nil
}

func testMongoStore(ctx context.Context, cfg *config.Config) error {
	mg, err := store.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Safety.MaxQueryRows)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer mg.Close(ctx)

	collections, err := mg.Collections(ctx)
	if err != nil {
		return fmt.Errorf("Collections failed: %w", err)
	}
	fmt.Printf("  Found %d collections\n", len(collections))

	schema, err := mg.SchemaText(ctx)
	if err != nil {
		return fmt.Errorf("SchemaText failed: %w", err)
	}
	fmt.Printf("  Schema context: %d characters\n", len(schema))

	return nil
}

func testQueryMemory(ctx context.Context, cfg *config.Config) error {
	mem, err := memory.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to initialize query memory: %w", err)
	}
	defer mem.Close()

	examples := []struct {
		question  string
		queryText string
	}{
		{
			question:  "how many customers do we have",
			queryText: "SELECT COUNT(*) FROM customers",
		},
		{
			question:  "which customers are in New York",
			queryText: "SELECT name, email FROM customers WHERE city = 'New York'",
		},
		{
			question:  "total revenue by product category",
			queryText: "SELECT p.category, SUM(oi.quantity * oi.unit_price) AS revenue FROM order_items oi JOIN products p ON p.id = oi.product_id GROUP BY p.category",
		},
	}

	for _, ex := range examples {
		if err := mem.Record(ctx, ex.question, "postgresql", ex.queryText); err != nil {
			return fmt.Errorf("failed to record example: %w", err)
		}
		fmt.Printf("  Recorded: %s\n", ex.question)
	}

	similar, err := mem.FindSimilar(ctx, "count of customers", "postgresql", 3)
	if err != nil {
		return fmt.Errorf("failed to find similar questions: %w", err)
	}
	fmt.Printf("  Found %d similar questions\n", len(similar))

	for _, ex := range similar {
		fmt.Printf("    - Similarity %.3f: %s\n", ex.Similarity, ex.Question)
	}

	return nil
}

func printDatabaseSummary(ctx context.Context, pg *store.Postgres, tables []string) error {
	for _, table := range tables {
		info, err := pg.TableInfo(ctx, table)
		if err != nil {
			continue
		}
		fmt.Printf("  - %s: %d rows, %d columns\n", info.Name, info.RowCount, len(info.Columns))
	}
	return nil
}

func indent(text, prefix string) string {
	return prefix + strings.ReplaceAll(text, "\n", "\n"+prefix)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
