package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tourbook/internal/catalog"
	"tourbook/internal/config"
	"tourbook/internal/database"
	"tourbook/internal/service"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		toursPath = flag.String("tours", "configs/tours.yaml", "path to tours.yaml")
		driver    = flag.String("driver", config.DriverSQLite, "database driver: sqlite or postgres")
		dbPath    = flag.String("db", "./data/tourbook.db", "path to sqlite db")
		dsn       = flag.String("dsn", os.Getenv("DATABASE_DSN"), "postgres dsn")
	)
	flag.Parse()

	tours, err := catalog.Load(*toursPath)
	if err != nil {
		return err
	}
	if len(tours) == 0 {
		return fmt.Errorf("no tours in %s", *toursPath)
	}

	db, err := database.Open(config.DatabaseConfig{Driver: *driver, Path: *dbPath, DSN: *dsn}, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := service.NewTourService(db, &logger).Seed(ctx, tours); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	fmt.Printf("done: seeded=%d\n", len(tours))
	return nil
}
