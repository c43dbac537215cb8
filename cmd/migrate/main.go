package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/logger"
	"github.com/Rrens/meeting-assistant/internal/repository/postgres"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	steps := flag.Int("steps", 1, "number of migrations to roll back with -direction=down")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		fmt.Fprintf(os.Stderr, "migrations only apply to the postgres driver (configured: %s); other stores create their schema on open\n", cfg.Database.Driver)
		os.Exit(1)
	}

	closer, err := logger.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	fmt.Printf("Migrating database at %s:%d (%s)...\n", cfg.Database.Host, cfg.Database.Port, *direction)

	switch *direction {
	case "up":
		err = postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath)
	case "down":
		err = postgres.RollbackMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath, *steps)
	default:
		err = fmt.Errorf("unknown direction %q", *direction)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
}
