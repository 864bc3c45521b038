package interval

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PosMax is the largest position a GenomeRange can hold.  Region strings
// without a positional restriction end here.
const PosMax = math.MaxInt32

// GenomeRange is a range on one chromosome, with 0-based coordinates.
// Start <= End always holds for ranges built by this package.
type GenomeRange struct {
	Chrom string
	Start int64
	End   int64
}

// String renders the range in samtools region syntax (1-based, closed).
func (r GenomeRange) String() string {
	return fmt.Sprintf("%s:%d-%d", r.Chrom, r.Start+1, r.End)
}

// Len returns End - Start.
func (r GenomeRange) Len() int64 { return r.End - r.Start }

// Overlaps reports whether [start, end) on chrom shares at least one position
// with r.  An empty r is treated as the single position r.Start, so that a
// zero-width query still returns the rows covering it.
func (r GenomeRange) Overlaps(chrom string, start, end int64) bool {
	if chrom != r.Chrom {
		return false
	}
	limit := r.End
	if limit <= r.Start {
		limit = r.Start + 1
	}
	if end <= start {
		end = start + 1
	}
	return start < limit && end > r.Start
}

// Contains reports whether [start, stop] on chrom lies inside r, treating both
// r and the argument as closed intervals.
func (r GenomeRange) Contains(chrom string, start, stop int64) bool {
	return chrom == r.Chrom && start >= r.Start && stop <= r.End
}

// Disjoint reports whether r and o share no position when both are read as
// closed intervals.  Ranges on different chromosomes are always disjoint.
func (r GenomeRange) Disjoint(o GenomeRange) bool {
	return r.Chrom != o.Chrom || o.Start > r.End || o.End < r.Start
}

// NewGenomeRange builds a range, rejecting negative or inverted coordinates.
func NewGenomeRange(chrom string, start, end int64) (GenomeRange, error) {
	if chrom == "" {
		return GenomeRange{}, fmt.Errorf("interval.NewGenomeRange: empty chromosome")
	}
	if start < 0 || end < start {
		return GenomeRange{}, fmt.Errorf("interval.NewGenomeRange: invalid coordinate pair [%d, %d)", start, end)
	}
	return GenomeRange{Chrom: chrom, Start: start, End: end}, nil
}

// ParseRegionString parses a region string of one of the forms
//
//	[chrom]:[1-based first pos]-[last pos]
//	[chrom]:[1-based pos]
//	[chrom]
//
// returning a GenomeRange with 0-based half-open boundaries.  The range
// [0, PosMax - 1) is returned if there is no positional restriction.
// Thousands separators (',') in positions are accepted.
func ParseRegionString(region string) (result GenomeRange, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.Chrom = region
		result.Start = 0
		result.End = PosMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty chromosome")
		return
	}
	result.Chrom = region[0:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 64); err != nil {
			return
		}
		if pos1 <= 0 || pos1 >= PosMax {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start = pos1 - 1
		result.End = pos1
		return
	}
	start1Str := rangeStr[:dashPos]
	endStr := rangeStr[dashPos+1:]
	var start1, end0 int64
	if start1, err = strconv.ParseInt(start1Str, 10, 64); err != nil {
		return
	}
	if start1 <= 0 {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", start1Str)
		return
	}
	if end0, err = strconv.ParseInt(endStr, 10, 64); err != nil {
		return
	}
	if end0 < start1 || end0 >= PosMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start = start1 - 1
	result.End = end0
	return
}

// ParseRegionList parses a comma-free list of regions separated by
// whitespace or ';'.
func ParseRegionList(s string) ([]GenomeRange, error) {
	var ranges []GenomeRange
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ' ' || r == '\t' }) {
		r, err := ParseRegionString(tok)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}
