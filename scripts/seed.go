package main

import (
	"context"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/safar/storefront-core/internal/config"
	"github.com/safar/storefront-core/internal/database"
	"github.com/safar/storefront-core/internal/statestore"
)

// Copies shop state between the file backend and postgres.
//
//	go run scripts/seed.go push   # file  -> postgres (missing keys only)
//	go run scripts/seed.go pull   # postgres -> file (overwrites)
func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/seed.go [push|pull]")
	}
	direction := os.Args[1]
	if direction != "push" && direction != "pull" {
		log.Fatal("Direction must be 'push' or 'pull'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()

	files, err := statestore.NewFileBackend(cfg.State.DataDir)
	if err != nil {
		log.Fatalf("Open file backend: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	pg, err := statestore.NewPostgresBackend(ctx, db)
	if err != nil {
		log.Fatalf("Prepare postgres backend: %v", err)
	}

	switch direction {
	case "push":
		if err := pg.SeedMissing(ctx, files); err != nil {
			log.Fatalf("Seed postgres: %v", err)
		}
		log.Printf("Pushed file state into postgres")

	case "pull":
		n := 0
		for _, key := range statestore.Keys() {
			value, err := pg.Get(ctx, key)
			if err != nil {
				log.Printf("Skipping %q: %v", key, err)
				continue
			}
			if err := files.Set(ctx, key, value); err != nil {
				log.Fatalf("Write %q: %v", key, err)
			}
			n++
		}
		log.Printf("Pulled %d state document(s) to %s", n, cfg.State.DataDir)
	}
}
