package coverage

import (
	"math"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/trackpyramid/pyramid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimate(t *testing.T) {
	recs := []Record{
		{"chr1", 0, 5, 1},
		{"chr1", 5, 10, 3},
		{"chr1", 10, 12, 2},
		{"chr1", 12, 30, 4},
		{"chr1", 40, 45, 5},
	}
	bins, err := Decimate(SliceIterator(recs), 10)
	require.NoError(t, err)
	expect.EQ(t, bins, []Bin{
		{Chrom: "chr1", Start: 0, Stop: 10, Sum: 20, Max: 3, Count: 2},
		// Straddles the end of [10, 20), so the bin ends at the record's stop.
		{Chrom: "chr1", Start: 10, Stop: 30, Sum: 76, Max: 4, Count: 2},
		{Chrom: "chr1", Start: 40, Stop: 50, Sum: 25, Max: 5, Count: 1, Tail: true},
	})

	expect.EQ(t, bins[0].Value(pyramid.StatMax), 3.0)
	expect.EQ(t, bins[0].Value(pyramid.StatMean), 2.0)
	expect.EQ(t, bins[0].Value(pyramid.StatLegacy), 3.0)
	expect.EQ(t, bins[2].Value(pyramid.StatMax), 5.0)
	expect.EQ(t, bins[2].Value(pyramid.StatLegacy), 0.5)
}

func TestDecimateFirstRecordKept(t *testing.T) {
	bins, err := Decimate(SliceIterator([]Record{{"chr1", 3, 4, 7}}), 100)
	require.NoError(t, err)
	expect.EQ(t, bins, []Bin{{Chrom: "chr1", Start: 0, Stop: 100, Sum: 7, Max: 7, Count: 1, Tail: true}})
}

func TestDecimateMaxResetsPerBin(t *testing.T) {
	bins, err := Decimate(SliceIterator([]Record{
		{"chr1", 0, 5, 9},
		{"chr1", 20, 25, 1},
	}), 10)
	require.NoError(t, err)
	require.Equal(t, 2, len(bins))
	expect.EQ(t, bins[1].Max, 1.0)
}

func TestDecimatePassthrough(t *testing.T) {
	d := NewDecimator(SliceIterator([]Record{
		{"chr1", 2, 4, 1},
		{"chr1", 100, 150, 2},
		{"chr1", 150, 155, 3},
	}), 10)
	d.Stat = pyramid.StatMean
	var got []Record
	var pass []bool
	for d.Scan() {
		got = append(got, d.Record())
		pass = append(pass, d.Bin().Passthrough)
	}
	require.NoError(t, d.Err())
	expect.EQ(t, got, []Record{
		{"chr1", 0, 10, 0.2},
		{"chr1", 100, 150, 2},
		{"chr1", 150, 160, 1.5},
	})
	expect.EQ(t, pass, []bool{false, true, false})
}

func TestDecimateChromosomeChange(t *testing.T) {
	bins, err := Decimate(SliceIterator([]Record{
		{"chr1", 0, 5, 1},
		{"chr1", 7, 9, 4},
		{"chr2", 3, 4, 2},
		{"chr2", 30, 31, 6},
	}), 10)
	require.NoError(t, err)
	expect.EQ(t, bins, []Bin{
		{Chrom: "chr1", Start: 0, Stop: 10, Sum: 13, Max: 4, Count: 2},
		{Chrom: "chr2", Start: 0, Stop: 10, Sum: 2, Max: 2, Count: 1},
		{Chrom: "chr2", Start: 30, Stop: 40, Sum: 6, Max: 6, Count: 1, Tail: true},
	})
}

func TestDecimateRejectsUnsorted(t *testing.T) {
	for _, recs := range [][]Record{
		{{"chr1", 10, 20, 1}, {"chr1", 5, 8, 1}},
		{{"chr1", 0, 5, 1}, {"chr2", 0, 5, 1}, {"chr1", 10, 15, 1}},
		{{"chr1", 10, 5, 1}},
	} {
		_, err := Decimate(SliceIterator(recs), 10)
		require.Error(t, err)
		expect.True(t, pyramid.IsInvariantViolation(err))
	}
}

func TestDecimateEmpty(t *testing.T) {
	bins, err := Decimate(SliceIterator(nil), 10)
	require.NoError(t, err)
	expect.EQ(t, len(bins), 0)
}

// seededRecords builds sorted, non-overlapping records no wider than step.
func seededRecords(seeds []int, step int64) []Record {
	var (
		recs []Record
		pos  int64
	)
	for i, s := range seeds {
		chrom := "chr1"
		if i >= len(seeds)/2 {
			chrom = "chr2"
		}
		if i == len(seeds)/2 {
			pos = 0
		}
		pos += int64(s % 7)
		width := 1 + int64(s)%step
		recs = append(recs, Record{chrom, pos, pos + width, float64(s % 13)})
		pos += width
	}
	return recs
}

func TestDecimateConservesMass(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("sum of bins equals sum of input", prop.ForAll(
		func(seeds []int, step int64) bool {
			recs := seededRecords(seeds, step)
			bins, err := Decimate(SliceIterator(recs), step)
			if err != nil {
				return false
			}
			var want, got float64
			n := 0
			for _, r := range recs {
				want += r.Value * float64(r.Width())
			}
			for _, b := range bins {
				got += b.Sum
				n += b.Count
			}
			return math.Abs(want-got) < 1e-6 && n == len(recs)
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.Int64Range(1, 50),
	))

	properties.Property("mean is mass preserving across chained levels", prop.ForAll(
		func(seeds []int) bool {
			recs := seededRecords(seeds, 10)
			d0 := NewDecimator(SliceIterator(recs), 10)
			d0.Stat = pyramid.StatMean
			d1 := NewDecimator(d0, 100)
			d1.Stat = pyramid.StatMean
			var want, got float64
			for _, r := range recs {
				want += r.Value * float64(r.Width())
			}
			for d1.Scan() {
				got += d1.Bin().Sum
			}
			return d1.Err() == nil && math.Abs(want-got) < 1e-6
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.Property("bins are sorted and disjoint", prop.ForAll(
		func(seeds []int, step int64) bool {
			bins, err := Decimate(SliceIterator(seededRecords(seeds, step)), step)
			if err != nil {
				return false
			}
			for i := 1; i < len(bins); i++ {
				if bins[i].Chrom == bins[i-1].Chrom && bins[i].Start < bins[i-1].Stop {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.Int64Range(1, 50),
	))

	properties.TestingRun(t)
}

func TestSelectLevel(t *testing.T) {
	opts := pyramid.DefaultCoverageOptions
	expect.EQ(t, SelectLevel(opts, 9.99), pyramid.Raw)
	expect.EQ(t, SelectLevel(opts, 10), pyramid.Level(0))
	expect.EQ(t, SelectLevel(opts, 99), pyramid.Level(0))
	expect.EQ(t, SelectLevel(opts, 100), pyramid.Level(1))
	expect.EQ(t, SelectLevel(opts, 1e12), pyramid.Level(opts.Depth-1))

	// 20 kb drawn with 1000 samples is 10 bases per sample.
	expect.EQ(t, Resolution(rangeOf("chr1", 0, 20000), 1000), 10.0)

	// Coarser resolutions never pick a finer level.
	prev := pyramid.Raw
	for res := 1.0; res < 1e7; res *= 1.7 {
		l := SelectLevel(opts, res)
		assert.True(t, l >= prev, "resolution %v", res)
		prev = l
	}
}
