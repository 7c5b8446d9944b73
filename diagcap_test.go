package diagcap

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/arloliu/diagcap/capture"
	"github.com/arloliu/diagcap/chunk"
	"github.com/arloliu/diagcap/errs"
	"github.com/arloliu/diagcap/format"
)

// writeCapture writes a file of 10-sample chunks starting at each of starts, with "start"
// holding the sample time and "conn.current" a derived value.
func writeCapture(t *testing.T, dir, name string, starts []int64, opts ...capture.EncoderOption) string {
	t.Helper()

	enc, err := capture.NewChunkEncoder(opts...)
	require.NoError(t, err)

	var buf bytes.Buffer
	w := capture.NewWriter(&buf)
	defer w.Close()

	require.NoError(t, w.WriteMetadata(starts[0], bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendStringElement(nil, "version", "7.0.2"),
	)))

	for _, first := range starts {
		rows := make([][]int64, 10)
		for i := range rows {
			ts := first + int64(i)
			rows[i] = []int64{ts, 100 + ts%7}
		}
		payload, err := enc.EncodeRows([]string{"start", "conn.current"}, rows)
		require.NoError(t, err)
		require.NoError(t, w.WriteChunk(first, payload))
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	return path
}

func TestParseFiles(t *testing.T) {
	path := writeCapture(t, t.TempDir(), "metrics.0", []int64{0, 10, 20})

	for _, lazy := range []bool{false, true} {
		ds, err := ParseFiles(context.Background(), []string{path}, WithLazy(lazy), WithLogger(zerolog.Nop()))
		require.NoError(t, err)

		got, err := ds.Metric("start", 5, 25)
		require.NoError(t, err)
		require.Len(t, got, 20)
		for i, v := range got {
			require.Equal(t, int64(5+i), v)
		}

		all, err := ds.Metric("start", FirstTimestamp, LastTimestamp)
		require.NoError(t, err)
		require.Len(t, all, 30)
		require.Equal(t, int64(29), all[29])

		require.Equal(t, 30, ds.SampleCount())

		files := ds.Files()
		require.Len(t, files, 1)
		require.Equal(t, int64(0), files[0].Start)
		require.Equal(t, int64(29), files[0].End)
		require.Equal(t, 30, files[0].SampleCount)
	}
}

func TestParseFiles_CodecOptions(t *testing.T) {
	path := writeCapture(t, t.TempDir(), "metrics.zstd", []int64{1000},
		capture.WithCompression(format.CompressionZstd),
		capture.WithDeltaEncoding(format.DeltaUnsigned),
	)

	ds, err := ParseFiles(context.Background(), []string{path},
		WithChunkOptions(chunk.WithCompression(format.CompressionZstd), chunk.WithDeltaEncoding(format.DeltaUnsigned)),
		WithWorkers(1),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	conns, err := ds.Metric("conn.current", FirstTimestamp, LastTimestamp)
	require.NoError(t, err)
	require.Len(t, conns, 10)
	require.Equal(t, int64(100+1000%7), conns[0])
}

func TestParseFiles_MetadataOnly(t *testing.T) {
	path := writeCapture(t, t.TempDir(), "metrics.meta", []int64{0})

	ds, err := ParseFiles(context.Background(), []string{path}, WithMetadataOnly(true), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	files := ds.Files()
	require.Len(t, files, 1)
	require.Equal(t, "7.0.2", files[0].Metadata.Lookup("version").StringValue())

	_, err = ds.Metric("start", FirstTimestamp, LastTimestamp)
	require.ErrorIs(t, err, errs.ErrEmptyDataset)
}

func TestParseFiles_Registerer(t *testing.T) {
	path := writeCapture(t, t.TempDir(), "metrics.0", []int64{0, 10})
	reg := prometheus.NewRegistry()

	for range 2 {
		_, err := ParseFiles(context.Background(), []string{path}, WithRegisterer(reg), WithLogger(zerolog.Nop()))
		require.NoError(t, err)
	}

	count, err := testutil.GatherAndCount(reg, "diagcap_chunks_decoded_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestParseFiles_Errors(t *testing.T) {
	_, err := ParseFiles(context.Background(), nil, WithWorkers(-1))
	require.Error(t, err)

	_, err = ParseFiles(context.Background(), nil, WithChunkOptions(chunk.WithMaxSamples(0)))
	require.Error(t, err)

	ds, err := ParseFiles(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, WithLogger(zerolog.Nop()))
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NotNil(t, ds)
}

func TestMetricID(t *testing.T) {
	require.Equal(t, xxhash.Sum64String("serverStatus.uptime"), MetricID("serverStatus.uptime"))
	require.NotEqual(t, MetricID("a"), MetricID("b"))
}
