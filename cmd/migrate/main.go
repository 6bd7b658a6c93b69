// Command migrate runs goose commands against the embedded schema:
//
//	go run ./cmd/migrate up
//	go run ./cmd/migrate status
//	go run ./cmd/migrate down-to 0
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/config"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/logger"
	pgstore "github.com/Jonnhyortega/controlia-software-sub000/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "overall timeout for the migration run")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel, os.Stdout)
	if cfg.DatabaseURL == "" {
		log.Error("[migrate] DATABASE_URL is required", errors.New("missing DATABASE_URL"), nil)
		os.Exit(1)
	}

	command, args := "up", []string(nil)
	if arguments := flag.Args(); len(arguments) > 0 {
		command, args = arguments[0], arguments[1:]
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("[migrate] failed to connect", err, nil)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("[migrate] failed to close database", err, nil)
		}
	}()

	if err := db.Migrate(ctx, command, args...); err != nil {
		log.Error("[migrate] command failed", err, logger.Fields{"command": command})
		os.Exit(1)
	}
	log.Info("[migrate] done", logger.Fields{"command": command})
}
