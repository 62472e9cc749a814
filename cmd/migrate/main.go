package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wolfman30/dental-collections/cmd/mainconfig"
	"github.com/wolfman30/dental-collections/internal/app/bootstrap"
	"github.com/wolfman30/dental-collections/internal/collections"
	appconfig "github.com/wolfman30/dental-collections/internal/config"
	"github.com/wolfman30/dental-collections/internal/flow"
	appmigrations "github.com/wolfman30/dental-collections/migrations"
)

func main() {
	cfg := mainconfig.Load()
	databaseURL := strings.TrimSpace(cfg.DatabaseURL)
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	// seed-policies [file] loads the step table into flow_step_config.
	if len(os.Args) >= 2 && os.Args[1] == "seed-policies" {
		path := ""
		if len(os.Args) >= 3 {
			path = os.Args[2]
		}
		if err := seedPolicies(cfg, path); err != nil {
			log.Fatalf("seed policies: %v", err)
		}
		return
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("db driver: %v", err)
	}

	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		log.Fatalf("source driver: %v", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		log.Fatalf("create migrator: %v", err)
	}
	defer func() { _, _ = m.Close() }()

	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "force":
			if len(os.Args) < 3 {
				log.Fatal("usage: migrate force <version>")
			}
			version, err := strconv.Atoi(os.Args[2])
			if err != nil {
				log.Fatalf("invalid version: %v", err)
			}
			if err := m.Force(version); err != nil {
				log.Fatalf("force version: %v", err)
			}
			fmt.Printf("forced version to %d\n", version)
			return
		case "down":
			if err := m.Steps(-1); err != nil {
				log.Fatalf("migrate down: %v", err)
			}
			fmt.Println("rolled back one migration")
			return
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate up: %v", err)
	}

	fmt.Println("migrations complete")
}

func seedPolicies(cfg *appconfig.Config, path string) error {
	policies, err := flow.LoadFile(path)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := bootstrap.BuildPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger := mainconfig.Logger(cfg)
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	if err := bootstrap.SeedPolicies(ctx, collections.NewStore(pool, logger), redisClient, policies, logger); err != nil {
		return err
	}
	fmt.Printf("seeded %d flow steps (max active step %d)\n", len(policies), collections.NewPolicyBook(policies).MaxActiveStep())
	return nil
}
