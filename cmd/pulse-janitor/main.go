package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/curatehub/pulse/pkg/config"
	"github.com/curatehub/pulse/pkg/storage"
)

var (
	dbURL         = flag.String("db-url", getEnv("PULSE_DB_URL", "postgres://localhost/pulse?sslmode=disable"), "Database connection URL")
	dbDriver      = flag.String("db-driver", getEnv("PULSE_DB_DRIVER", "postgres"), "Database driver (postgres or sqlite3)")
	retentionDays = flag.Int("retention-days", 180, "Days of daily counters to keep")
	schedule      = flag.String("schedule", "30 1 * * *", "Cron schedule for pruning (default: 01:30 UTC)")
	runOnce       = flag.Bool("run-once", false, "Prune once and exit")
)

func main() {
	flag.Parse()

	if *retentionDays < 7 {
		log.Fatalf("Retention of %d days would eat into the trending window", *retentionDays)
	}

	db, err := storage.Open(config.DatabaseConfig{
		Driver: *dbDriver,
		URL:    *dbURL,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if *runOnce {
		if err := prune(db); err != nil {
			log.Fatalf("Prune failed: %v", err)
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		if err := prune(db); err != nil {
			log.Printf("Prune failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule prune job: %v", err)
	}

	c.Start()
	log.Println("Pulse janitor started")
	log.Printf("Prune schedule: %s, retention: %d days", *schedule, *retentionDays)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Let a running prune finish
	ctx := c.Stop()
	<-ctx.Done()

	log.Println("Janitor stopped")
}

func prune(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -*retentionDays)
	cutoff = time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)

	log.Printf("Pruning daily counters older than %s", cutoff.Format("2006-01-02"))
	removed, err := storage.PruneDailyMetrics(ctx, db, cutoff)
	if err != nil {
		return err
	}
	log.Printf("Pruned %d rows", removed)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
