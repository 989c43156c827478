package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"archimap/internal/fixture"
	"archimap/internal/importer"
	"archimap/internal/logging"
	"archimap/pkg/database"
	"archimap/pkg/models"
)

// listFlag collects a repeatable flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	var (
		csvIn, jsonIn listFlag

		dbPath     = flag.String("db", database.DefaultConfig().Path, "output database path")
		architects = flag.String("architects", "", "architect CSV (optional; derived from buildings when empty)")
		demo       = flag.Bool("demo", false, "seed the built-in demo catalog")
		inPlace    = flag.Bool("in-place", false, "upsert into the existing file instead of building a fresh one")
		timeout    = flag.Duration("timeout", 5*time.Minute, "overall timeout")
	)
	flag.Var(&csvIn, "csv", "building CSV (repeatable)")
	flag.Var(&jsonIn, "json", "exported page_N.json directory or base URL (repeatable)")
	flag.Parse()

	logger, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if !*demo && len(csvIn) == 0 && len(jsonIn) == 0 {
		logger.Fatal("nothing to build: pass -demo, -csv or -json")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	target := *dbPath
	if !*inPlace {
		// Build next to the target and rename it into place, so the server
		// never serves a half-written file.
		target = *dbPath + ".building"
		_ = os.Remove(target)
	}

	if err := build(ctx, logger, target, *demo, csvIn, jsonIn, *architects); err != nil {
		_ = os.Remove(target)
		logger.Fatal("build failed", zap.Error(err))
	}

	if !*inPlace {
		if err := os.Rename(target, *dbPath); err != nil {
			logger.Fatal("move database into place", zap.Error(err))
		}
	}

	st, err := os.Stat(*dbPath)
	if err != nil {
		logger.Fatal("stat database", zap.Error(err))
	}
	abs, _ := filepath.Abs(*dbPath)
	logger.Info("✅ database written", zap.String("path", abs), zap.Int64("bytes", st.Size()))
}

func build(ctx context.Context, logger *zap.Logger, path string, demo bool, csvIn, jsonIn []string, architectsCSV string) error {
	db, err := database.Open(database.Config{Path: path})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	if demo {
		if err := fixture.Seed(ctx, db); err != nil {
			return fmt.Errorf("seed demo catalog: %w", err)
		}
		logger.Info("seeded demo catalog", zap.Int("buildings", fixture.BuildingCount), zap.Int("architects", fixture.ArchitectCount))
	}

	var sources []importer.Source
	for _, p := range csvIn {
		sources = append(sources, importer.NewCSVSource(p))
	}
	for _, loc := range jsonIn {
		sources = append(sources, importer.NewJSONSource(loc))
	}

	if len(sources) > 0 {
		agg := importer.NewAggregator(logger.Named("importer"), sources...)
		buildings, err := agg.FetchAndMerge(ctx)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		logger.Info("merged buildings", zap.Int("count", len(buildings)))

		if err := importer.SaveBuildings(ctx, db, buildings); err != nil {
			return err
		}

		var architects []models.Architect
		if architectsCSV != "" {
			if architects, err = importer.ReadArchitectsCSV(ctx, architectsCSV); err != nil {
				return err
			}
		} else {
			architects = importer.ArchitectsFromBuildings(buildings)
		}
		if err := importer.SaveArchitects(ctx, db, architects); err != nil {
			return err
		}
		logger.Info("saved architects", zap.Int("count", len(architects)))
	}

	return database.Finalize(ctx, db)
}
