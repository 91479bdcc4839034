package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"collabrepo/api/internal/store"
)

func main() {
	dir := flag.String("dir", "file://./internal/store/migrations", "directory with migrations")
	dsn := flag.String("dsn", "", "database connection string")
	action := flag.String("action", "up", "migration action: up, down, steps, version, force")
	n := flag.String("n", "", "step count for steps, version for force")

	flag.Parse()

	if *dsn == "" {
		log.Fatal("dsn is required")
	}

	m, err := migrate.New(*dir, store.MigrateURL(*dsn))
	if err != nil {
		log.Fatalf("failed to create migrate instance: %v", err)
	}
	defer m.Close()

	switch *action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		var steps int
		if steps, err = strconv.Atoi(*n); err != nil {
			log.Fatalf("steps needs -n: %v", err)
		}
		err = m.Steps(steps)
	case "force":
		var version int
		if version, err = strconv.Atoi(*n); err != nil {
			log.Fatalf("force needs -n: %v", err)
		}
		err = m.Force(version)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			log.Fatalf("read version: %v", verr)
		}
		fmt.Printf("version %d dirty=%t\n", version, dirty)
		return
	default:
		log.Fatalf("unknown action: %s", *action)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration failed: %v", err)
	}

	fmt.Println("migration done successfully")
}
