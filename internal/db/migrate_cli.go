package db

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

var ErrUnknownMigrateAction = errors.New("unknown migrate action")

// RunMigrateCommand handles the 'migrate' subcommand.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 || args[0] == "help" {
		PrintMigrateHelp(out)
		if len(args) < 1 {
			return errors.New("missing migrate action")
		}
		return nil
	}

	migrations, err := MigrationsFS()
	if err != nil {
		return fmt.Errorf("failed to get migrations filesystem: %w", err)
	}
	// Open without migrating; the subcommand manages the schema.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	action := args[0]
	versionArg := func() (int, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("usage: radar migrate %s <version_number>", action)
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid version number: %s", args[1])
		}
		return v, nil
	}

	switch action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
	case "version":
		v, err := versionArg()
		if err != nil {
			return err
		}
		if err := database.MigrateTo(migrations, uint(v)); err != nil {
			return err
		}
	case "force":
		v, err := versionArg()
		if err != nil {
			return err
		}
		if err := database.MigrateForce(migrations, v); err != nil {
			return err
		}
	case "status":
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("%w: %s", ErrUnknownMigrateAction, action)
	}
	return printMigrateStatus(out, database, migrations)
}

func printMigrateStatus(out io.Writer, database *DB, migrations fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", version)
	fmt.Fprintf(out, "Latest available: %d\n", latest)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)
	if dirty {
		fmt.Fprintln(out, "WARNING: a migration failed mid-execution; inspect the database, then run: radar migrate force <version>")
	}
	return nil
}

// PrintMigrateHelp writes usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Database Migration Commands

Usage: radar migrate <command> [options]

Commands:
  up              Apply all pending migrations
  down            Rollback one migration
  status          Show current migration status and version
  version <N>     Migrate to specific version N
  force <N>       Force migration version to N (recovery only)
  help            Show this help message

Options:
  -db <path>      Path to database file (default: mmwave.db)
`)
}
