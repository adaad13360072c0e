package tables

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mimic2clif/sink"
	"mimic2clif/source"
	"mimic2clif/vocab"
)

// testEnv wires a Deps around injected source rows, mapping CSVs written
// to a temp dir, and a stub mCIDE server.
type testEnv struct {
	deps   Deps
	outDir string
}

// fixedRows returns a loader that serves a fixed slice.
func fixedRows[T any](rows []T) source.Loader {
	return func(ctx context.Context, s *source.Store) (any, error) {
		return rows, nil
	}
}

// newTestEnv builds a Deps for builder tests. mappings maps the mapping
// file name (e.g. "adt") to CSV content; mcide maps mCIDE file names to
// CSV content served over a local stub.
func newTestEnv(t *testing.T, reg source.Registry, mappings map[string]string, mcide map[string]string) testEnv {
	t.Helper()

	mappingsDir := t.TempDir()
	for name, content := range mappings {
		path := filepath.Join(mappingsDir, "mimic-to-clif-mappings - "+name+".csv")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := mcide[filepath.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(content))
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	log := zap.NewNop()
	return testEnv{
		deps: Deps{
			Log:         log,
			Store:       source.NewStore(t.TempDir(), reg, false, log),
			MappingsDir: mappingsDir,
			MCIDE:       vocab.NewMCIDEClient(srv.URL, "", log),
			Sink:        sink.New(outDir, log),
			Site:        time.UTC,
		},
		outDir: outDir,
	}
}

// readOutput reads back the parquet file a builder wrote.
func readOutput[T any](t *testing.T, env testEnv, table string) []T {
	t.Helper()
	f, err := os.Open(filepath.Join(env.outDir, "clif_"+table+".parquet"))
	require.NoError(t, err)
	defer f.Close()

	reader := parquet.NewGenericReader[T](f)
	defer reader.Close()

	rows := make([]T, 0, reader.NumRows())
	buf := make([]T, 64)
	for {
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	return rows
}

func at(hour, minute int) time.Time {
	return time.Date(2130, 4, 2, hour, minute, 0, 0, time.UTC)
}

func chartRow(subject, hadm, stay, item int64, t time.Time, value string, num *float64) source.ChartEvent {
	e := source.ChartEvent{
		SubjectID: subject,
		HadmID:    hadm,
		StayID:    stay,
		ItemID:    item,
		ChartTime: t,
		ValueNum:  num,
	}
	if value != "" {
		e.Value = &value
	}
	return e
}
