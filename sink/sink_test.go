package sink

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sampleRow struct {
	HospitalizationID string     `parquet:"hospitalization_id"`
	RecordedDttm      *time.Time `parquet:"recorded_dttm,optional,timestamp"`
	Value             *float64   `parquet:"value,optional"`
}

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zap.NewNop())

	at := time.Date(2130, 4, 2, 8, 0, 0, 0, time.UTC)
	v := 36.8
	rows := []sampleRow{
		{HospitalizationID: "20001", RecordedDttm: &at, Value: &v},
		{HospitalizationID: "20002"},
	}

	path, err := Write(s, "vitals", rows)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clif_vitals.parquet"), path)
	assert.Equal(t, path, s.Path("vitals"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	reader := parquet.NewGenericReader[sampleRow](f)
	defer reader.Close()
	require.EqualValues(t, 2, reader.NumRows())

	got := make([]sampleRow, 2)
	n, err := reader.Read(got)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	require.Equal(t, 2, n)

	assert.Equal(t, "20001", got[0].HospitalizationID)
	require.NotNil(t, got[0].Value)
	assert.Equal(t, v, *got[0].Value)
	require.NotNil(t, got[0].RecordedDttm)
	assert.True(t, got[0].RecordedDttm.Equal(at))
	assert.Nil(t, got[1].Value)
	assert.Nil(t, got[1].RecordedDttm)
}

func TestWriteEmptyTable(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop())
	path, err := Write(s, "position", []sampleRow{})
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestWriteCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	s := New(dir, zap.NewNop())
	_, err := Write(s, "adt", []sampleRow{{HospitalizationID: "1"}})
	require.NoError(t, err)
}
