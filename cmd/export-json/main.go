package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"archimap/internal/export"
	"archimap/internal/logging"
	"archimap/internal/remotedb"
	"archimap/pkg/models"
	"archimap/pkg/utils"
)

func main() {
	var (
		source   = flag.String("db", "public/db/archimap.sqlite", "database path, http(s) URL or s3:// URI")
		outDir   = flag.String("out", "public/data", "output directory")
		csvOut   = flag.String("csv", "", "also write the buildings as CSV to this path")
		pageSize = flag.Int("page-size", export.DefaultPageSize, "items per page")
		timeout  = flag.Duration("timeout", 5*time.Minute, "overall timeout")
	)
	flag.Parse()

	logger, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dbCfg := utils.DefaultConfig().Database
	dbCfg.Source = *source
	cfg := remotedb.ConfigFrom(dbCfg, logger.Named("remotedb"))
	cfg.ReadyTimeout = *timeout
	cfg.QueryTimeout = *timeout

	loader := remotedb.New(cfg)
	defer loader.Close()

	if err := loader.Load(ctx); err != nil {
		logger.Fatal("load database", zap.String("source", *source), zap.Error(err))
	}

	var (
		sum   export.Summary
		items []models.ExportItem
	)
	err = loader.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		var err error
		if sum, err = export.WriteJSON(ctx, db, *outDir, export.Options{PageSize: *pageSize, Logger: logger}); err != nil {
			return err
		}
		if *csvOut != "" {
			items, err = export.ReadItems(ctx, db)
		}
		return err
	})
	if err != nil {
		logger.Fatal("export failed", zap.Error(err))
	}

	if *csvOut != "" {
		if err := export.WriteCSV(ctx, items, *csvOut); err != nil {
			logger.Fatal("csv export failed", zap.Error(err))
		}
		logger.Info("wrote csv", zap.String("path", *csvOut), zap.Int("items", len(items)))
	}

	st := loader.Status()
	fields := []zap.Field{
		zap.Int("items", sum.TotalItems),
		zap.Int("pages", sum.TotalPages),
		zap.String("size", fmt.Sprintf("%.1f MB", float64(sum.Bytes)/1024/1024)),
	}
	if st.Reader != nil {
		fields = append(fields, zap.Any("reader", st.Reader))
	}
	logger.Info("🎉 export completed", fields...)
}
