// Command pipeline runs the MIMIC-IV → CLIF conversion: one builder per
// output table, each independent, so a failure in one table never takes
// down the rest of the run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mimic2clif/config"
	"mimic2clif/logging"
	"mimic2clif/sink"
	"mimic2clif/source"
	"mimic2clif/tables"
	"mimic2clif/vocab"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to the pipeline config file")
	tableList := flag.String("tables", "", "Comma-separated table names to build (default: all)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	log, err := logging.New(level, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))

	selected, err := selectBuilders(*tableList)
	if err != nil {
		log.Error("bad -tables flag", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, selected); err != nil {
		log.Error("run finished with failures", zap.Error(err))
		os.Exit(1)
	}
}

// selectBuilders resolves the -tables flag against the known builders,
// preserving build order.
func selectBuilders(list string) ([]tables.Builder, error) {
	all := tables.All()
	if list == "" {
		return all, nil
	}
	wanted := make(map[string]bool)
	for _, name := range strings.Split(list, ",") {
		wanted[strings.TrimSpace(name)] = true
	}
	known := make(map[string]bool, len(all))
	var selected []tables.Builder
	for _, b := range all {
		known[b.Name] = true
		if wanted[b.Name] {
			selected = append(selected, b)
		}
	}
	var unknown []string
	for name := range wanted {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown tables: %s", strings.Join(unknown, ", "))
	}
	return selected, nil
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, selected []tables.Builder) error {
	site, err := cfg.Location()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir(), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	deps := tables.Deps{
		Log:         log,
		Store:       source.NewStore(cfg.MimicDir(), source.DefaultRegistry(), cfg.WriteParquetCache, log),
		MappingsDir: cfg.MappingsDir,
		MCIDE:       vocab.NewMCIDEClient(cfg.MCIDEBaseURL, cfg.MCIDECacheDir, log),
		Sink:        sink.New(cfg.OutputDir(), log),
		Site:        site,
	}

	type result struct {
		name    string
		err     error
		elapsed time.Duration
	}
	results := make([]result, 0, len(selected))
	for _, b := range selected {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := b.Build(ctx, deps)
		elapsed := time.Since(start)
		if err != nil {
			log.Error("table failed", zap.String("table", b.Name), zap.Error(err), zap.Duration("elapsed", elapsed))
		} else {
			log.Info("table done", zap.String("table", b.Name), zap.Duration("elapsed", elapsed))
		}
		results = append(results, result{name: b.Name, err: err, elapsed: elapsed})
	}

	failed := 0
	for _, r := range results {
		status := "ok"
		if r.err != nil {
			status = "failed"
			failed++
		}
		log.Info("summary",
			zap.String("table", r.name),
			zap.String("status", status),
			zap.Duration("elapsed", r.elapsed))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tables failed", failed, len(results))
	}
	return nil
}
