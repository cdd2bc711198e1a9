package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/whisperexam/whisper-backend/internal/config"
)

func main() {
	var migrationDir string
	flag.StringVar(&migrationDir, "path", "migrations", "Path to migration files")
	flag.Parse()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationDir), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Migration failed to initialize: %v", err)
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		return
	}

	if err := run(m, args); err != nil {
		log.Fatal(err)
	}
}

func run(m *migrate.Migrate, args []string) error {
	switch command := args[0]; command {
	case "up", "down":
		steps, err := stepsArg(args)
		if err != nil {
			return err
		}
		if command == "down" {
			steps = -steps
		}
		if steps != 0 {
			err = m.Steps(steps)
		} else if command == "up" {
			err = m.Up()
		} else {
			err = m.Down()
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("%s failed: %w", command, err)
		}
		fmt.Printf("Migrated %s successfully\n", command)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("version failed: %w", err)
		}
		fmt.Printf("Version: %d, Dirty: %t\n", version, dirty)
	case "force":
		if len(args) < 2 {
			return errors.New("force requires a version argument")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version: %w", err)
		}
		if err := m.Force(v); err != nil {
			return fmt.Errorf("force failed: %w", err)
		}
		fmt.Printf("Forced version to %d\n", v)
	default:
		printUsage()
	}
	return nil
}

// stepsArg parses the optional step count after up/down. Zero means all.
func stepsArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid step count %q", args[1])
	}
	return n, nil
}

func printUsage() {
	fmt.Println("Usage: migrate [flags] <command>")
	fmt.Println("Commands: up [n], down [n], version, force <version>")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
