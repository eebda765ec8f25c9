package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/tommyeight8/wms-prod/internal/config"
)

func main() {
	var (
		command = flag.String("command", "up", "migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "number of steps for up/down (0 = all)")
		version = flag.Uint("version", 0, "target version for force")
		dir     = flag.String("dir", "migrations", "migrations directory")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	m, closeFn, err := newMigrate(*dir, cfg.DB.DSN())
	if err != nil {
		log.Fatalf("migrate init failed: %v", err)
	}
	defer closeFn()

	switch *command {
	case "up":
		err = runSteps(m, *steps, true)
	case "down":
		err = runSteps(m, *steps, false)
	case "version":
		v, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return
		}
		if verr != nil {
			log.Fatalf("version check failed: %v", verr)
		}
		fmt.Printf("version %d (dirty=%v)\n", v, dirty)
		return
	case "force":
		err = m.Force(int(*version))
	default:
		log.Fatalf("unknown command %q", *command)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration %s failed: %v", *command, err)
	}
	fmt.Printf("migration %s complete\n", *command)
}

func newMigrate(dir, dsn string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create migrate instance: %w", err)
	}

	return m, func() { db.Close() }, nil
}

func runSteps(m *migrate.Migrate, steps int, up bool) error {
	if steps > 0 {
		if up {
			return m.Steps(steps)
		}
		return m.Steps(-steps)
	}
	if up {
		return m.Up()
	}
	return m.Down()
}
