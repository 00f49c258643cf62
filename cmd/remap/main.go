// remap re-runs mapping and routing for stored extraction runs whose
// overall confidence fell below a cutoff. OCR is never called: each run
// is re-mapped from its stored payload against the current rule set, so
// the sweep is cheap to repeat after rules improve. Runs persisted
// without a payload get their routing decision recomputed in place.
//
// Usage: remap [-cutoff N] [-batch N] [-parallel N] [-dry-run]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/freightflow/invoice-mapping-service/internal/db"
	"github.com/freightflow/invoice-mapping-service/internal/models"
	"github.com/freightflow/invoice-mapping-service/internal/pipeline"
	"github.com/freightflow/invoice-mapping-service/internal/queue"
)

func main() {
	var (
		cutoff   = flag.Float64("cutoff", 80, "re-map runs whose overall confidence is below this (0-100)")
		batch    = flag.Int("batch", 100, "maximum number of documents per sweep")
		parallel = flag.Int("parallel", 4, "concurrent re-mapping workers")
		dryRun   = flag.Bool("dry-run", false, "list matching runs without re-mapping them")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *cutoff < 0 || *cutoff > 100 {
		logger.Error("cutoff must be between 0 and 100", "cutoff", *cutoff)
		os.Exit(1)
	}
	if *batch < 1 {
		logger.Error("batch must be at least 1", "batch", *batch)
		os.Exit(1)
	}
	if *parallel < 1 {
		logger.Error("parallel must be at least 1", "parallel", *parallel)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config := loadConfig(logger)

	pool, err := db.Connect(ctx, logger)
	if err != nil {
		if errors.Is(err, db.ErrNoDatabase) {
			logger.Error("remap needs a database, set DATABASE_URL or the DB_* variables")
		} else {
			logger.Error("database connection failed", "error", err)
		}
		os.Exit(1)
	}
	defer pool.Close()

	extractions := db.NewExtractionStore(pool)

	records, err := extractions.ListLowConfidence(ctx, *cutoff, *batch)
	if err != nil {
		logger.Error("low-confidence scan failed", "error", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Printf("no runs below confidence %.1f\n", *cutoff)
		return
	}

	if *dryRun {
		fmt.Printf("%d run(s) below confidence %.1f:\n", len(records), *cutoff)
		for _, rec := range records {
			fmt.Printf("  %s  document=%s  confidence=%.1f  path=%s\n",
				rec.Extraction.ID, rec.Extraction.DocumentID,
				rec.Decision.OverallConfidence, rec.Decision.Path)
		}
		return
	}

	manager := queue.NewManager(db.NewQueueStore(pool), logger)
	proc, err := pipeline.New(config, pipeline.Deps{
		Documents:   db.NewDocumentStore(pool),
		Forwarders:  db.NewForwarderStore(pool),
		Rules:       db.NewRuleStore(pool),
		Extractions: extractions,
		Queue:       manager,
	}, logger)
	if err != nil {
		logger.Error("pipeline setup failed", "error", err)
		os.Exit(1)
	}

	var remapped, improved, moved, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)
	for i := range records {
		rec := &records[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := proc.Reroute(gctx, rec.Extraction.ID)
			if err != nil {
				failed.Add(1)
				logger.Error("remap.failed",
					"extraction_id", rec.Extraction.ID,
					"document_id", rec.Extraction.DocumentID,
					"error", err)
				// One bad run should not stop the sweep.
				return nil
			}
			remapped.Add(1)
			if res.Decision.OverallConfidence > rec.Decision.OverallConfidence {
				improved.Add(1)
			}
			if res.Decision.Path != rec.Decision.Path {
				moved.Add(1)
			}
			logger.Info("remap.done",
				"extraction_id", rec.Extraction.ID,
				"document_id", rec.Extraction.DocumentID,
				"old_confidence", rec.Decision.OverallConfidence,
				"new_confidence", res.Decision.OverallConfidence,
				"old_path", rec.Decision.Path,
				"new_path", res.Decision.Path)
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("remap interrupted", "error", err)
	}

	fmt.Printf("re-mapped %d of %d run(s): %d improved, %d changed path, %d failed\n",
		remapped.Load(), len(records), improved.Load(), moved.Load(), failed.Load())
	if failed.Load() > 0 {
		os.Exit(1)
	}
}

// loadConfig reads the same config file the server uses so re-mapped
// runs score and route exactly as fresh ones would. A missing file
// falls back to the defaults.
func loadConfig(logger *slog.Logger) *models.Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	config := models.DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config
	}
	if err != nil {
		logger.Error("config read failed", "path", path, "error", err)
		os.Exit(1)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		logger.Error("config parse failed", "path", path, "error", err)
		os.Exit(1)
	}
	return config
}
