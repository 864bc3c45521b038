package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/trackpyramid/encoding/bgzf"
	"github.com/grailbio/trackpyramid/interval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coverageRows() [][]string {
	var rows [][]string
	for _, chrom := range []string{"chr1", "chr2"} {
		for i := 0; i < 2000; i++ {
			rows = append(rows, []string{
				chrom, strconv.Itoa(i * 50), strconv.Itoa(i*50 + 50), fmt.Sprintf("%d.25", i%7),
			})
		}
	}
	return rows
}

// expectedRows filters rows the way a Store read should.
func expectedRows(rows [][]string, layout Layout, r interval.GenomeRange) [][]string {
	var out [][]string
	for _, row := range rows {
		chrom, begin, end, err := layout.Span(row)
		if err != nil {
			panic(err)
		}
		if r.Overlaps(chrom, begin, end) {
			out = append(out, row)
		}
	}
	return out
}

func testStoreRoundTrip(t *testing.T, s Store, path string) {
	ctx := context.Background()
	rows := coverageRows()
	expect.False(t, s.Exists(ctx, path))
	require.NoError(t, s.Write(ctx, path, CoverageLayout, SliceRows(rows)))
	expect.True(t, s.Exists(ctx, path))

	for _, r := range []interval.GenomeRange{
		{Chrom: "chr1", Start: 0, End: 100},
		{Chrom: "chr1", Start: 25, End: 26},
		{Chrom: "chr1", Start: 49990, End: 50100},
		{Chrom: "chr1", Start: 16360, End: 16361},
		{Chrom: "chr1", Start: 0, End: 200000},
		{Chrom: "chr1", Start: 0, End: interval.PosMax},
		{Chrom: "chr2", Start: 1234, End: 1234},
		{Chrom: "chr2", Start: 99990, End: 200000},
		{Chrom: "chr2", Start: 100000, End: 200000},
	} {
		sc, err := s.Read(ctx, path, r)
		require.NoError(t, err)
		got, err := ReadAll(sc)
		require.NoError(t, err)
		want := expectedRows(rows, CoverageLayout, r)
		assert.Equal(t, len(want), len(got), "range %v", r)
		assert.Equal(t, want, got, "range %v", r)
	}

	// Unknown chromosome.
	sc, err := s.Read(ctx, path, interval.GenomeRange{Chrom: "chrX", Start: 0, End: 1000})
	require.NoError(t, err)
	got, err := ReadAll(sc)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBGZFStoreRoundTrip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	s := NewBGZFStore()
	testStoreRoundTrip(t, s, filepath.Join(tempDir, "sub", "cov.bgz"))
}

func TestMemStoreRoundTrip(t *testing.T) {
	s := NewMemStore()
	testStoreRoundTrip(t, s, "cov.bgz")
	// Seven ranged reads plus the unknown chromosome.
	expect.EQ(t, s.Reads("cov.bgz"), 8)
	expect.EQ(t, s.Len(), 1)
}

func TestBGZFStoreLoops(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	rows := [][]string{
		{"chr1", "100", "200", "chr1", "5000", "5100", "3"},
		{"chr1", "300", "400", "chr1", "400", "500", "1"},
		{"chr1", "9000", "9100", "chr1", "90000", "90100", "2"},
	}
	path := filepath.Join(tempDir, "loops.bgz")
	s := NewBGZFStore()
	require.NoError(t, s.Write(ctx, path, LoopLayout, SliceRows(rows)))

	// Indexed over [start1, end2), so a window between the anchors still
	// finds the loop.
	sc, err := s.Read(ctx, path, interval.GenomeRange{Chrom: "chr1", Start: 2000, End: 3000})
	require.NoError(t, err)
	got, err := ReadAll(sc)
	require.NoError(t, err)
	assert.Equal(t, [][]string{rows[0]}, got)

	for _, r := range []interval.GenomeRange{
		{Chrom: "chr1", Start: 50000, End: 50001},
		{Chrom: "chr1", Start: 9000, End: 9100},
		{Chrom: "chr1", Start: 90099, End: 90100},
	} {
		sc, err = s.Read(ctx, path, r)
		require.NoError(t, err)
		got, err = ReadAll(sc)
		require.NoError(t, err)
		assert.Equal(t, [][]string{rows[2]}, got, "range %v", r)
	}

	sc, err = s.Read(ctx, path, interval.GenomeRange{Chrom: "chr1", Start: 0, End: 200000})
	require.NoError(t, err)
	got, err = ReadAll(sc)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

// tilingRows returns n rows of the given width covering [0, n*width) on
// chrom.
func tilingRows(chrom string, width int64, n int) [][]string {
	var rows [][]string
	for i := int64(0); i < int64(n); i++ {
		rows = append(rows, []string{
			chrom, strconv.FormatInt(i*width, 10), strconv.FormatInt((i+1)*width, 10), strconv.FormatInt(i, 10),
		})
	}
	return rows
}

func TestBGZFStoreWideRows(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	// One artifact per pyramid step width, from raw rows to the coarsest
	// levels.
	for _, width := range []int64{10, 100, 1000, 10000, 100000, 1000000, 10000000} {
		rows := append(tilingRows("chr1", width, 60), tilingRows("chr2", width, 3)...)
		for _, s := range []*BGZFStore{
			NewBGZFStore(),
			{Level: 1, BlockSize: 64, IndexInterval: 1},
		} {
			path := filepath.Join(tempDir, fmt.Sprintf("w%d_%d.bgz", width, s.BlockSize))
			require.NoError(t, s.Write(ctx, path, CoverageLayout, SliceRows(rows)))
			for _, r := range []interval.GenomeRange{
				{Chrom: "chr1", Start: 0, End: 1},
				{Chrom: "chr1", Start: 16383, End: 16385},
				{Chrom: "chr1", Start: width*30 + 1, End: width*30 + 2},
				{Chrom: "chr1", Start: width*59 - 1, End: width * 59},
				{Chrom: "chr1", Start: width * 60, End: width*60 + 1},
				{Chrom: "chr1", Start: 0, End: interval.PosMax},
				{Chrom: "chr2", Start: width + width/2, End: width*2 + 1},
			} {
				sc, err := s.Read(ctx, path, r)
				require.NoError(t, err)
				got, err := ReadAll(sc)
				require.NoError(t, err)
				assert.Equal(t, expectedRows(rows, CoverageLayout, r), got, "width %d, range %v", width, r)
			}
		}
	}
}

func TestBGZFStoreNestedRows(t *testing.T) {
	// A wide row followed by narrow ones it covers: reads inside the wide
	// row must start before it even when later index entries are closer.
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	rows := [][]string{{"chr1", "0", "1000000", "chr1", "999000", "1000000", "9"}}
	for i := 0; i < 500; i++ {
		b := int64(i) * 100
		rows = append(rows, []string{
			"chr1", strconv.FormatInt(b, 10), strconv.FormatInt(b+10, 10),
			"chr1", strconv.FormatInt(b+50, 10), strconv.FormatInt(b+60, 10), "1",
		})
	}
	rows = append(rows, []string{"chr1", "70000", "70010", "chr1", "70020", "70030", "2"})
	s := &BGZFStore{Level: 1, BlockSize: 128, IndexInterval: 1}
	path := filepath.Join(tempDir, "nested.bgz")
	require.NoError(t, s.Write(ctx, path, LoopLayout, SliceRows(rows)))
	for _, r := range []interval.GenomeRange{
		{Chrom: "chr1", Start: 25055, End: 25056},
		{Chrom: "chr1", Start: 49970, End: 49990},
		{Chrom: "chr1", Start: 60000, End: 70000},
		{Chrom: "chr1", Start: 70025, End: 70026},
		{Chrom: "chr1", Start: 999999, End: 1000000},
		{Chrom: "chr1", Start: 1000000, End: 1000001},
	} {
		sc, err := s.Read(ctx, path, r)
		require.NoError(t, err)
		got, err := ReadAll(sc)
		require.NoError(t, err)
		assert.Equal(t, expectedRows(rows, LoopLayout, r), got, "range %v", r)
	}
}

func TestIndexChunk(t *testing.T) {
	b := newIndexBuilder(1)
	// chr0: rows at 0, 100 (wide), 200, 300; chr1: one row.
	b.add(0, 0, 10, 0)
	b.add(0, 100, 5000, 1<<16)
	b.add(0, 200, 210, 2<<16)
	b.add(0, 300, 310, 3<<16)
	b.done(0, 4<<16)
	b.add(1, 50, 60, 4<<16|10)
	b.done(1, 4<<16|20)

	var buf bytes.Buffer
	require.NoError(t, encodeIndex(&buf, b, CoverageLayout, []string{"chr0", "chr1"}))
	idx, err := decodeIndex(&buf)
	require.NoError(t, err)
	expect.EQ(t, idx.layout, CoverageLayout)
	expect.EQ(t, idx.entries, b.entries)
	expect.EQ(t, idx.ends, []uint64{4 << 16, 4<<16 | 20})

	for _, test := range []struct {
		rid        int
		start, end int64
		begin, lim uint64
		ok         bool
	}{
		{0, 0, 1, 0, 1 << 16, true},
		{0, 50, 60, 0, 1 << 16, false},
		{0, 150, 160, 1 << 16, 2 << 16, true},
		{0, 305, 306, 1 << 16, 4 << 16, true},
		{0, 5000, 6000, 3 << 16, 4 << 16, true},
		{0, 150, 400, 1 << 16, 4 << 16, true},
		{1, 0, 50, 0, 0, false},
		{1, 0, 51, 4<<16 | 10, 4<<16 | 20, true},
		{2, 0, 100, 0, 0, false},
	} {
		c, ok := idx.chunk(test.rid, test.start, test.end)
		expect.EQ(t, ok, test.ok, "%+v", test)
		if ok && test.ok {
			expect.EQ(t, c, bgzf.Chunk(test.begin, test.lim), "%+v", test)
		}
	}

	_, err = decodeIndex(bytes.NewReader([]byte("not an index")))
	expect.True(t, err != nil)
}

func TestBGZFStoreSmallBlocks(t *testing.T) {
	// Rows straddling many tiny blocks must still be found through the index.
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	path := filepath.Join(tempDir, "small.bgz")
	rows := coverageRows()

	s := &BGZFStore{Level: 1, BlockSize: 100}
	require.NoError(t, s.Write(ctx, path, CoverageLayout, SliceRows(rows)))
	for _, r := range []interval.GenomeRange{
		{Chrom: "chr2", Start: 33333, End: 44444},
		{Chrom: "chr1", Start: 99949, End: 99950},
		{Chrom: "chr2", Start: 0, End: 1},
	} {
		sc, err := s.Read(ctx, path, r)
		require.NoError(t, err)
		got, err := ReadAll(sc)
		require.NoError(t, err)
		assert.Equal(t, expectedRows(rows, CoverageLayout, r), got, "range %v", r)
	}
}

func TestBGZFStoreDataWithoutIndex(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tempDir, "partial.bgz")
	out, err := os.Create(path)
	require.NoError(t, err)
	w, err := bgzf.NewWriter(out, 1)
	require.NoError(t, err)
	_, err = w.Write([]byte("chr1\t0\t10\t1\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())

	// An interrupted build leaves data without an index; that is not an
	// artifact, and the next Write replaces it.
	s := NewBGZFStore()
	ctx := context.Background()
	expect.False(t, s.Exists(ctx, path))
	rows := [][]string{{"chr1", "0", "10", "7"}}
	require.NoError(t, s.Write(ctx, path, CoverageLayout, SliceRows(rows)))
	sc, err := s.Read(ctx, path, interval.GenomeRange{Chrom: "chr1", Start: 0, End: 10})
	require.NoError(t, err)
	got, err := ReadAll(sc)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestStoreIdempotentWrite(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	for _, s := range []Store{NewBGZFStore(), NewMemStore()} {
		path := filepath.Join(tempDir, fmt.Sprintf("%T.bgz", s))
		first := [][]string{{"chr1", "0", "10", "1"}}
		second := [][]string{{"chr1", "0", "10", "2"}}
		require.NoError(t, s.Write(ctx, path, CoverageLayout, SliceRows(first)))
		require.NoError(t, s.Write(ctx, path, CoverageLayout, SliceRows(second)))
		sc, err := s.Read(ctx, path, interval.GenomeRange{Chrom: "chr1", Start: 0, End: 10})
		require.NoError(t, err)
		got, err := ReadAll(sc)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestStoreRejectsUnsorted(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	for _, rows := range [][][]string{
		{{"chr1", "100", "110", "1"}, {"chr1", "50", "60", "1"}},
		{{"chr1", "0", "10", "1"}, {"chr2", "0", "10", "1"}, {"chr1", "20", "30", "1"}},
		{{"chr1", "0", "x", "1"}},
		{{"chr1", "0"}},
	} {
		for _, s := range []Store{NewBGZFStore(), NewMemStore()} {
			path := filepath.Join(tempDir, "bad.bgz")
			err := s.Write(ctx, path, CoverageLayout, SliceRows(rows))
			require.Error(t, err)
			expect.True(t, errors.Is(errors.Invalid, err))
			expect.False(t, s.Exists(ctx, path))
		}
	}
}

func TestStoreMissingArtifact(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	r := interval.GenomeRange{Chrom: "chr1", Start: 0, End: 10}
	for _, s := range []Store{NewBGZFStore(), NewMemStore()} {
		_, err := s.Read(ctx, filepath.Join(tempDir, "missing.bgz"), r)
		require.Error(t, err)
		expect.True(t, IsStoreError(err))
	}
}

func TestAuxRoundTrip(t *testing.T) {
	names := []string{"chr1", "chr10", "chrUn_gl000220"}
	layout, got, err := decodeAux(encodeAux(LoopLayout, names))
	require.NoError(t, err)
	expect.EQ(t, layout, LoopLayout)
	expect.EQ(t, got, names)

	_, _, err = decodeAux([]byte{1, 2, 3})
	assert.Contains(t, err.Error(), "too short")
}

func TestLayoutSpan(t *testing.T) {
	chrom, begin, end, err := LoopLayout.Span([]string{"chr1", "10", "20", "chr1", "30", "40", "1"})
	require.NoError(t, err)
	expect.EQ(t, chrom, "chr1")
	expect.EQ(t, begin, int64(10))
	expect.EQ(t, end, int64(40))

	_, _, _, err = CoverageLayout.Span([]string{"chr1", "20", "10", "1"})
	expect.True(t, errors.Is(errors.Invalid, err))
	assert.Error(t, Layout{NameColumn: 1, BeginColumn: 1, EndColumn: 2}.validate())
}

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	defer shutdown()
	os.Exit(m.Run())
}
