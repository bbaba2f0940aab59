package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/seanankenbruck/database-ai/internal/config"
	"github.com/seanankenbruck/database-ai/internal/database"
)

func main() {
	ctx := context.Background()
	cfg := config.NewDefaultLoader().MustLoad(ctx)

	fmt.Println("=== Running Database Migrations ===")
	fmt.Printf("Connecting to database: %s@%s:%s/%s\n",
		cfg.Postgres.Username, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)

	if err := database.Verify(cfg.Postgres); err != nil {
		log.Fatalf("Database connectivity failed: %v", err)
	}
	fmt.Println("✓ Database connectivity verified")

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "./migrations"
	}

	migrationConfig := database.MigrationConfig{
		DatabaseURL:    cfg.Postgres.DSN(),
		MigrationsPath: migrationsPath,
	}

	if err := database.RunMigrations(migrationConfig); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	fmt.Println("✓ Migrations applied")

	if err := database.HealthCheck(cfg.Postgres); err != nil {
		log.Fatalf("Schema verification failed: %v", err)
	}
	fmt.Println("✓ Schema verified (pgvector extension and query memory table)")

	fmt.Println("✓ Database migrations completed successfully!")
}
