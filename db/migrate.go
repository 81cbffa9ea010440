package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/PortNumber53/social-scheduler/internal/database"
	"github.com/joho/godotenv"
)

func main() {
	msg, err := run(os.Args[1:], defaultDeps())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(msg)
}

type deps struct {
	loadEnv     func(...string) error
	getenv      func(string) string
	openDB      func(dataSourceName string) (*sql.DB, error)
	newMigrator func(db *sql.DB) (database.Migrator, error)
}

func defaultDeps() deps {
	return deps{
		loadEnv:     godotenv.Load,
		getenv:      os.Getenv,
		openDB:      database.Open,
		newMigrator: database.NewMigrator,
	}
}

func parseArgs(args []string) (database.Options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var o database.Options
	fs.StringVar(&o.Direction, "direction", "up", "Migration direction: up or down")
	fs.IntVar(&o.Steps, "steps", 0, "Number of migration steps (0 = all)")
	fs.IntVar(&o.Force, "force", -1, "Force set migration version (clears dirty state). Example: -force=12")
	fs.BoolVar(&o.ForceDirty, "force-dirty", false, "If the database is dirty, force it to the current version and exit")
	if err := fs.Parse(args); err != nil {
		return database.Options{}, err
	}
	switch o.Direction {
	case "up", "down":
		return o, nil
	default:
		return database.Options{}, fmt.Errorf("Invalid direction: %s (must be 'up' or 'down')", o.Direction)
	}
}

func run(args []string, d deps) (string, error) {
	o, err := parseArgs(args)
	if err != nil {
		return "", err
	}

	if d.loadEnv != nil {
		_ = d.loadEnv()
	}

	databaseURL := ""
	if d.getenv != nil {
		databaseURL = d.getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL environment variable is required")
	}

	if d.openDB == nil {
		return "", fmt.Errorf("openDB dependency is required")
	}
	if d.newMigrator == nil {
		return "", fmt.Errorf("newMigrator dependency is required")
	}
	db, err := d.openDB(databaseURL)
	if err != nil {
		return "", fmt.Errorf("Failed to connect to database: %w", err)
	}
	defer db.Close()

	m, err := d.newMigrator(db)
	if err != nil {
		return "", err
	}
	return database.Run(m, o)
}
