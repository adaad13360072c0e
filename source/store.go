// Package source provides read access to the raw MIMIC-IV tables. Each
// table resolves to <dir>/mimic-iv-<ver>/<module>/<table>.parquet when a
// converted file exists, falling back to the distribution's
// <table>.csv.gz; loaded tables are cached in memory for the rest of the
// run, and the cache is safe for concurrent readers once warm.
//
// Builders never resolve a table by reaching into ambient state: the
// Store carries an explicit Registry from table name to loader.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
)

// Loader materializes one table. The any value is a []T for the table's
// row type.
type Loader func(ctx context.Context, s *Store) (any, error)

// Registry maps "<module>/<table>" to its loader.
type Registry map[string]Loader

// Key builds a registry key.
func Key(module, table string) string { return module + "/" + table }

// DefaultRegistry registers every MIMIC-IV table the pipeline reads.
func DefaultRegistry() Registry {
	return Registry{
		Key("icu", "chartevents"):     loaderFor[ChartEvent]("icu", "chartevents", decodeChartEvent),
		Key("icu", "procedureevents"): loaderFor[ProcedureEvent]("icu", "procedureevents", decodeProcedureEvent),
		Key("icu", "inputevents"):     loaderFor[InputEvent]("icu", "inputevents", decodeInputEvent),
		Key("icu", "icustays"):        loaderFor[ICUStay]("icu", "icustays", decodeICUStay),
		Key("icu", "d_items"):         loaderFor[DItem]("icu", "d_items", decodeDItem),
		Key("hosp", "labevents"):      loaderFor[LabEvent]("hosp", "labevents", decodeLabEvent),
		Key("hosp", "admissions"):     loaderFor[Admission]("hosp", "admissions", decodeAdmission),
		Key("hosp", "patients"):       loaderFor[Patient]("hosp", "patients", decodePatient),
		Key("hosp", "transfers"):      loaderFor[Transfer]("hosp", "transfers", decodeTransfer),
	}
}

func loaderFor[T any](module, table string, dec csvDecoder[T]) Loader {
	return func(ctx context.Context, s *Store) (any, error) {
		return readTable[T](ctx, s, module, table, dec)
	}
}

// Store is the tabular source access collaborator.
type Store struct {
	dir        string // versioned MIMIC root, e.g. data/mimic-iv-3.1
	writeCache bool   // convert csv.gz reads to parquet for next time
	reg        Registry
	log        *zap.Logger

	mu    sync.RWMutex
	cache map[string]any
}

// NewStore builds a Store over the versioned MIMIC directory.
func NewStore(dir string, reg Registry, writeCache bool, log *zap.Logger) *Store {
	return &Store{
		dir:        dir,
		writeCache: writeCache,
		reg:        reg,
		log:        log,
		cache:      make(map[string]any),
	}
}

// Table returns the cached rows for module/table, loading on first use.
func (s *Store) Table(ctx context.Context, module, table string) (any, error) {
	key := Key(module, table)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	load, ok := s.reg[key]
	if !ok {
		return nil, fmt.Errorf("no loader registered for %s", key)
	}
	rows, err := load(ctx, s)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = rows
	s.mu.Unlock()
	return rows, nil
}

// Rows fetches module/table through the store's registry as []T.
func Rows[T any](ctx context.Context, s *Store, module, table string) ([]T, error) {
	v, err := s.Table(ctx, module, table)
	if err != nil {
		return nil, err
	}
	rows, ok := v.([]T)
	if !ok {
		return nil, fmt.Errorf("table %s/%s has row type %T, not %T", module, table, v, rows)
	}
	return rows, nil
}

func readTable[T any](ctx context.Context, s *Store, module, table string, dec csvDecoder[T]) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	parquetPath := filepath.Join(s.dir, module, table+".parquet")
	csvPath := filepath.Join(s.dir, module, table+".csv.gz")

	if _, err := os.Stat(parquetPath); err == nil {
		rows, err := readParquet[T](parquetPath)
		if err != nil {
			return nil, fmt.Errorf("read %s/%s: %w", module, table, err)
		}
		s.log.Info("loaded source table",
			zap.String("table", Key(module, table)),
			zap.Int("rows", len(rows)),
			zap.Duration("elapsed", time.Since(start)))
		return rows, nil
	}

	rows, err := readGzCSV(csvPath, dec)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", module, table, err)
	}
	s.log.Info("loaded source table from csv.gz",
		zap.String("table", Key(module, table)),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(start)))

	if s.writeCache {
		if err := writeParquet(parquetPath, rows); err != nil {
			// Cache write failure is not a load failure.
			s.log.Warn("could not write parquet cache",
				zap.String("path", parquetPath), zap.Error(err))
		} else {
			s.log.Info("wrote parquet cache", zap.String("path", parquetPath))
		}
	}
	return rows, nil
}

func readParquet[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[T](f)
	defer reader.Close()

	rows := make([]T, 0, reader.NumRows())
	buf := make([]T, 8192)
	for {
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func writeParquet[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	writer := parquet.NewGenericWriter[T](f, parquet.Compression(&parquet.Snappy))
	if _, err := writer.Write(rows); err != nil {
		f.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
