package loops

import (
	"sort"

	"github.com/grailbio/base/errors"
)

// Validate checks the build-time invariants of a loop file: records are
// sorted by (Chrom1, Chrom2, Start1, Start2), every loop is
// intra-chromosomal, and anchor B starts at or after the end of anchor A.
// The error names the first offending record.
func Validate(recs []Record) error {
	for i, r := range recs {
		if r.Chrom1 != r.Chrom2 {
			return errors.E(errors.Invalid, "loops.Validate", "inter-chromosomal loop", r.String())
		}
		if r.Start2 < r.End1 {
			return errors.E(errors.Invalid, "loops.Validate", "anchors out of order", r.String())
		}
		if r.Start1 < 0 || r.End1 < r.Start1 || r.End2 < r.Start2 {
			return errors.E(errors.Invalid, "loops.Validate", "invalid anchor", r.String())
		}
		if i > 0 && Less(r, recs[i-1]) {
			return errors.E(errors.Invalid, "loops.Validate", "unsorted", r.String(), "follows", recs[i-1].String())
		}
	}
	return nil
}

// Sort sorts recs by (Chrom1, Chrom2, Start1, Start2), keeping the input
// order of ties.
func Sort(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool { return Less(recs[i], recs[j]) })
}

type cell struct {
	chrom1, chrom2 string
	a, b           int64
}

func midBin(start, end, resolution int64) int64 {
	return ((start + end) / 2) / resolution
}

// Decimate merges loops at the given resolution.  Loops with an extent below
// resolution are dropped.  The rest are grouped by the grid cell of their
// anchor midpoints; each cell keeps its first loop, with the value summed
// over the cell.  The result is sorted.
func Decimate(recs []Record, resolution int64) []Record {
	var (
		out   []Record
		index = map[cell]int{}
	)
	for _, r := range recs {
		if r.Extent() < resolution {
			continue
		}
		c := cell{r.Chrom1, r.Chrom2, midBin(r.Start1, r.End1, resolution), midBin(r.Start2, r.End2, resolution)}
		if i, ok := index[c]; ok {
			out[i].Value += r.Value
			continue
		}
		index[c] = len(out)
		out = append(out, r)
	}
	Sort(out)
	return out
}
