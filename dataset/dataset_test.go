package dataset

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/diagcap/capture"
	"github.com/arloliu/diagcap/chunk"
	"github.com/arloliu/diagcap/errs"
	"github.com/arloliu/diagcap/internal/metrics"
)

var names = []string{"start", "value"}

// buildChunk encodes n samples with timestamps first, first+1, ... and value = 10*timestamp.
func buildChunk(t *testing.T, dec *chunk.Decoder, first int64, n int, metricNames ...string) *chunk.Chunk {
	t.Helper()

	if len(metricNames) == 0 {
		metricNames = names
	}

	rows := make([][]int64, n)
	for i := range rows {
		ts := first + int64(i)
		row := make([]int64, len(metricNames))
		row[0] = ts
		for j := 1; j < len(row); j++ {
			row[j] = ts * 10 * int64(j)
		}
		rows[i] = row
	}

	enc, err := capture.NewChunkEncoder()
	require.NoError(t, err)
	payload, err := enc.EncodeRows(metricNames, rows)
	require.NoError(t, err)

	c := dec.NewChunk(first, payload, "metrics.test")
	require.NoError(t, c.Decode(false))

	return c
}

func newDataset(t *testing.T, opts ...Option) *Dataset {
	t.Helper()

	d, err := New(append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	require.NoError(t, err)

	return d
}

// threeChunks builds the 0-9, 10-19, 20-29 dataset, adding the chunks out of order.
func threeChunks(t *testing.T, lazy bool) *Dataset {
	t.Helper()

	dec, err := chunk.NewDecoder(chunk.WithLazy(lazy))
	require.NoError(t, err)

	d := newDataset(t)
	for _, first := range []int64{20, 0, 10} {
		require.NoError(t, d.AddChunk(buildChunk(t, dec, first, 10)))
	}
	require.Empty(t, d.Seal())

	return d
}

func seq(from, to int64) []int64 {
	out := make([]int64, 0, to-from)
	for v := from; v < to; v++ {
		out = append(out, v)
	}

	return out
}

func TestDataset_Metric_SpansChunks(t *testing.T) {
	d := threeChunks(t, false)

	got, err := d.Metric("start", 5, 25)
	require.NoError(t, err)
	require.Equal(t, seq(5, 25), got)
	require.Len(t, got, 20)

	all, err := d.Metric("start", FirstTimestamp, LastTimestamp)
	require.NoError(t, err)
	require.Equal(t, seq(0, 30), all)

	values, err := d.Metric("value", 8, 12)
	require.NoError(t, err)
	require.Equal(t, []int64{80, 90, 100, 110}, values)
}

func TestDataset_Metric_SingleChunk(t *testing.T) {
	d := threeChunks(t, false)

	got, err := d.Metric("start", 12, 17)
	require.NoError(t, err)
	require.Equal(t, seq(12, 17), got)
}

func TestDataset_Metric_SplitAtMid(t *testing.T) {
	d := threeChunks(t, false)

	full, err := d.Metric("value", FirstTimestamp, LastTimestamp)
	require.NoError(t, err)

	for mid := int64(-3); mid <= 33; mid++ {
		left, err := d.Metric("value", FirstTimestamp, mid)
		require.NoError(t, err)
		right, err := d.Metric("value", mid, LastTimestamp)
		require.NoError(t, err)

		require.Equal(t, full, append(append([]int64{}, left...), right...), "mid=%d", mid)
	}
}

func TestDataset_Metric_RangeCompleteness(t *testing.T) {
	d := threeChunks(t, true)

	for a := int64(-2); a <= 32; a++ {
		for b := a + 1; b <= 33; b++ {
			got, err := d.Metric("start", a, b)
			require.NoError(t, err)

			want := 0
			for ts := int64(0); ts < 30; ts++ {
				if ts >= a && ts < b {
					want++
				}
			}
			require.Len(t, got, want, "range [%d, %d)", a, b)
		}
	}
}

func TestDataset_Metric_Gaps(t *testing.T) {
	dec, err := chunk.NewDecoder()
	require.NoError(t, err)

	d := newDataset(t)
	require.NoError(t, d.AddChunk(buildChunk(t, dec, 0, 5)))   // 0..4
	require.NoError(t, d.AddChunk(buildChunk(t, dec, 100, 5))) // 100..104
	d.Seal()

	got, err := d.Metric("start", 3, 102)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 4, 100, 101}, got)

	got, err = d.Metric("start", 10, 90)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = d.Metric("start", 200, 300)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = d.Metric("start", -50, -10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDataset_Locate(t *testing.T) {
	d := threeChunks(t, false)

	tests := []struct {
		name      string
		ts        int64
		fromStart bool
		want      SampleLocation
	}{
		{name: "first_sentinel", ts: FirstTimestamp, fromStart: true, want: SampleLocation{0, 0}},
		{name: "last_sentinel", ts: LastTimestamp, fromStart: false, want: SampleLocation{2, 9}},
		{name: "inside_start", ts: 15, fromStart: true, want: SampleLocation{1, 5}},
		{name: "inside_end", ts: 15, fromStart: false, want: SampleLocation{1, 4}},
		{name: "boundary_start", ts: 10, fromStart: true, want: SampleLocation{1, 0}},
		{name: "boundary_end_moves_to_previous_chunk", ts: 10, fromStart: false, want: SampleLocation{0, 9}},
		{name: "before_all_start", ts: -5, fromStart: true, want: SampleLocation{0, 0}},
		{name: "before_all_end", ts: 0, fromStart: false, want: SampleLocation{-1, 0}},
		{name: "after_all_start", ts: 30, fromStart: true, want: SampleLocation{3, 0}},
		{name: "after_all_end", ts: 30, fromStart: false, want: SampleLocation{2, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Locate(tt.ts, tt.fromStart)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSampleLocation_Compare(t *testing.T) {
	require.Equal(t, 0, SampleLocation{1, 2}.Compare(SampleLocation{1, 2}))
	require.Equal(t, -1, SampleLocation{1, 2}.Compare(SampleLocation{1, 3}))
	require.Equal(t, 1, SampleLocation{2, 0}.Compare(SampleLocation{1, 9}))
	require.Equal(t, -1, SampleLocation{-1, 0}.Compare(SampleLocation{0, 0}))
}

func TestDataset_Errors(t *testing.T) {
	empty := newDataset(t)

	_, err := empty.Metric("start", 0, 10)
	require.ErrorIs(t, err, errs.ErrEmptyDataset)
	_, err = empty.MetricNames()
	require.ErrorIs(t, err, errs.ErrEmptyDataset)
	_, err = empty.Locate(0, true)
	require.ErrorIs(t, err, errs.ErrEmptyDataset)
	_, err = empty.Timestamps(FirstTimestamp, LastTimestamp)
	require.ErrorIs(t, err, errs.ErrEmptyDataset)
	_, _, err = empty.Span()
	require.ErrorIs(t, err, errs.ErrEmptyDataset)
	require.Empty(t, empty.Seal())

	d := threeChunks(t, true)

	_, err = d.Metric("start", 10, 10)
	require.ErrorIs(t, err, errs.ErrInvalidRange)
	_, err = d.Metric("start", 20, 10)
	require.ErrorIs(t, err, errs.ErrInvalidRange)
	_, err = d.Metric("serverStatus.uptime", 0, 10)
	require.ErrorIs(t, err, errs.ErrUnknownMetric)
	_, err = d.Timestamps(5, 5)
	require.ErrorIs(t, err, errs.ErrInvalidRange)
	_, err = d.Matrix([]string{"start", "nope"}, 0, 10)
	require.ErrorIs(t, err, errs.ErrUnknownMetric)

	// Failed queries must not have decoded anything.
	for _, c := range d.Chunks() {
		require.Equal(t, chunk.StatePending, c.State())
	}
}

func TestDataset_LazyEagerEquivalence(t *testing.T) {
	eager := threeChunks(t, false)
	lazy := threeChunks(t, true)

	for _, name := range names {
		for _, r := range [][2]int64{{FirstTimestamp, LastTimestamp}, {3, 27}, {10, 20}, {19, 21}} {
			a, err := eager.Metric(name, r[0], r[1])
			require.NoError(t, err)
			b, err := lazy.Metric(name, r[0], r[1])
			require.NoError(t, err)
			require.Equal(t, a, b)
		}
	}
}

func TestDataset_LazyTouchesOnlyCoveredChunks(t *testing.T) {
	d := threeChunks(t, true)

	_, err := d.Metric("value", 12, 15)
	require.NoError(t, err)

	chunks := d.Chunks()
	require.Equal(t, chunk.StatePending, chunks[0].State())
	require.Equal(t, chunk.StateDecoded, chunks[1].State())
	require.Equal(t, chunk.StatePending, chunks[2].State())
}

func TestDataset_Timestamps_NoDecode(t *testing.T) {
	d := threeChunks(t, true)

	ts, err := d.Timestamps(FirstTimestamp, LastTimestamp)
	require.NoError(t, err)
	require.Equal(t, seq(0, 30), ts)

	for _, c := range d.Chunks() {
		require.Equal(t, chunk.StatePending, c.State())
	}
}

func TestDataset_Matrix(t *testing.T) {
	d := threeChunks(t, false)

	m, err := d.Matrix([]string{"value", "start"}, 9, 11)
	require.NoError(t, err)
	require.Equal(t, [][]int64{{90, 100}, {9, 10}}, m)
}

func TestDataset_Samples(t *testing.T) {
	d := threeChunks(t, true)

	seq, err := d.Samples("value", 8, 12)
	require.NoError(t, err)

	var ts, values []int64
	for at, v := range seq {
		ts = append(ts, at)
		values = append(values, v)
	}
	require.Equal(t, []int64{8, 9, 10, 11}, ts)
	require.Equal(t, []int64{80, 90, 100, 110}, values)

	count := 0
	for range seq {
		count++
		break
	}
	require.Equal(t, 1, count)

	_, err = d.Samples("missing", 0, 10)
	require.ErrorIs(t, err, errs.ErrUnknownMetric)
}

func TestDataset_MetricNamesAndCounts(t *testing.T) {
	d := threeChunks(t, false)

	got, err := d.MetricNames()
	require.NoError(t, err)
	require.Equal(t, names, got)

	require.Equal(t, 30, d.SampleCount())

	start, end, err := d.Span()
	require.NoError(t, err)
	require.Equal(t, int64(0), start)
	require.Equal(t, int64(29), end)

	chunks := d.Chunks()
	require.Len(t, chunks, 3)
	for i := 1; i < len(chunks); i++ {
		require.LessOrEqual(t, chunks[i-1].Start(), chunks[i].Start())
	}

	require.Len(t, d.ChunksFrom("metrics.test"), 3)
	require.Empty(t, d.ChunksFrom("other"))
}

func TestDataset_Seal_DropsMismatchAndDuplicates(t *testing.T) {
	dec, err := chunk.NewDecoder()
	require.NoError(t, err)

	collector, err := metrics.New(nil)
	require.NoError(t, err)

	d := newDataset(t, WithMetrics(collector))
	require.NoError(t, d.AddChunk(buildChunk(t, dec, 0, 10)))
	require.NoError(t, d.AddChunk(buildChunk(t, dec, 10, 10, "start", "value", "extra")))
	require.NoError(t, d.AddChunk(buildChunk(t, dec, 20, 10)))
	require.NoError(t, d.AddChunk(buildChunk(t, dec, 20, 10)))
	require.NoError(t, d.AddChunk(buildChunk(t, dec, 25, 10)))
	require.Equal(t, 50, d.SampleCount())

	dropped := d.Seal()
	require.Len(t, dropped, 3)
	require.Equal(t, 20, d.SampleCount())
	require.Len(t, d.Chunks(), 2)

	require.InDelta(t, 1, testutil.ToFloat64(collector.ChunksDropped.WithLabelValues(metrics.ReasonCatalogMismatch)), 0)
	require.InDelta(t, 2, testutil.ToFloat64(collector.ChunksDropped.WithLabelValues(metrics.ReasonDuplicate)), 0)

	got, err := d.Metric("start", FirstTimestamp, LastTimestamp)
	require.NoError(t, err)
	require.Equal(t, append(seq(0, 10), seq(20, 30)...), got)
}

func TestDataset_Seal_Incremental(t *testing.T) {
	dec, err := chunk.NewDecoder()
	require.NoError(t, err)

	d := newDataset(t)
	require.NoError(t, d.AddChunk(buildChunk(t, dec, 100, 10)))
	d.Seal()

	// A second file with an earlier range keeps the catalog and sorts ahead.
	require.NoError(t, d.AddChunk(buildChunk(t, dec, 0, 10)))
	require.Empty(t, d.Seal())

	got, err := d.Metric("start", FirstTimestamp, LastTimestamp)
	require.NoError(t, err)
	require.Equal(t, append(seq(0, 10), seq(100, 110)...), got)
	require.Equal(t, 20, d.SampleCount())
}

func TestDataset_AddChunk_RejectsCorrupt(t *testing.T) {
	dec, err := chunk.NewDecoder()
	require.NoError(t, err)

	d := newDataset(t)
	err = d.AddChunk(dec.NewChunk(1, []byte{1, 2, 3, 4, 5, 6}, "bad"))
	require.ErrorIs(t, err, errs.ErrCorruptPayload)
	require.Equal(t, 0, d.SampleCount())
}

func TestDataset_AddChunk_Concurrent(t *testing.T) {
	dec, err := chunk.NewDecoder(chunk.WithLazy(true))
	require.NoError(t, err)

	chunks := make([]*chunk.Chunk, 32)
	for i := range chunks {
		chunks[i] = buildChunk(t, dec, int64(i)*10, 10)
	}

	d := newDataset(t)

	var wg sync.WaitGroup
	for i := len(chunks) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(c *chunk.Chunk) {
			defer wg.Done()
			if err := d.AddChunk(c); err != nil {
				t.Errorf("add chunk: %v", err)
			}
		}(chunks[i])
	}
	wg.Wait()

	require.Empty(t, d.Seal())
	require.Equal(t, 320, d.SampleCount())

	got, err := d.Metric("start", FirstTimestamp, LastTimestamp)
	require.NoError(t, err)
	require.Equal(t, seq(0, 320), got)
}

func TestDataset_ReleasePayloads(t *testing.T) {
	d := threeChunks(t, true)

	_, err := d.Metric("value", 0, 5)
	require.NoError(t, err)

	require.Equal(t, 1, d.ReleasePayloads())

	// Released chunks still serve queries; pending ones can still decode.
	got, err := d.Metric("value", FirstTimestamp, LastTimestamp)
	require.NoError(t, err)
	require.Len(t, got, 30)
}

func TestDataset_Files(t *testing.T) {
	d := newDataset(t)
	d.AddFile(FileProvenance{Path: "a", Start: 0, End: 9, SampleCount: 10, Chunks: 1})
	d.AddFile(FileProvenance{Path: "b", Start: 10, End: 19, SampleCount: 10, Chunks: 1})

	files := d.Files()
	require.Len(t, files, 2)
	require.Equal(t, "a", files[0].Path)
	require.Equal(t, "b", files[1].Path)

	files[0].Path = "mutated"
	require.Equal(t, "a", d.Files()[0].Path)
}

func ExampleDataset_Metric() {
	dec, _ := chunk.NewDecoder()
	enc, _ := capture.NewChunkEncoder()

	d, _ := New(WithLogger(zerolog.Nop()))
	for _, first := range []int64{0, 10, 20} {
		rows := make([][]int64, 10)
		for i := range rows {
			rows[i] = []int64{first + int64(i)}
		}
		payload, _ := enc.EncodeRows([]string{"start"}, rows)
		c := dec.NewChunk(first, payload, "")
		_ = c.Decode(false)
		_ = d.AddChunk(c)
	}
	d.Seal()

	values, _ := d.Metric("start", 5, 25)
	fmt.Println(len(values), values[0], values[len(values)-1])
	// Output: 20 5 24
}
