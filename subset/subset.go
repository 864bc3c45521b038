// Package subset narrows query results to one or more genomic sub-ranges.
//
// A Filter is a closed union of four kinds.  Unrestricted keeps every row,
// SingleRange keeps the rows inside one range, MultiRange keeps the rows
// inside any of several ranges, and Unsupported stands for any selection this
// package cannot evaluate; it keeps nothing.  Ranges are closed: a row is
// inside [Start, End] on Chrom when chrom == Chrom, start >= Start and
// stop <= End.  A loop is inside a range when either of its anchors is.
package subset

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/trackpyramid/coverage"
	"github.com/grailbio/trackpyramid/interval"
	"github.com/grailbio/trackpyramid/loops"
)

// Kind is the variant of a Filter.
type Kind int

const (
	// Unrestricted keeps every row.
	Unrestricted Kind = iota
	// SingleRange keeps the rows inside Ranges[0].
	SingleRange
	// MultiRange keeps the rows inside any of Ranges.
	MultiRange
	// Unsupported keeps no row.
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case Unrestricted:
		return "unrestricted"
	case SingleRange:
		return "single"
	case MultiRange:
		return "multi"
	}
	return "unsupported"
}

// Filter is a subset selection.  The zero value is Unrestricted.
type Filter struct {
	Kind   Kind
	Ranges []interval.GenomeRange
	// Desc describes an Unsupported selection, for logging.
	Desc string
}

// None returns the Unrestricted filter.
func None() Filter { return Filter{} }

// Single returns a SingleRange filter.
func Single(r interval.GenomeRange) Filter {
	return Filter{Kind: SingleRange, Ranges: []interval.GenomeRange{r}}
}

// Multi returns a MultiRange filter, the union of rs.
func Multi(rs ...interval.GenomeRange) Filter {
	return Filter{Kind: MultiRange, Ranges: rs}
}

// NotSupported returns an Unsupported filter.
func NotSupported(desc string) Filter {
	return Filter{Kind: Unsupported, Desc: desc}
}

// Parse parses a list of regions separated by ';' or whitespace.  An empty
// string gives the Unrestricted filter, a single region a SingleRange filter.
func Parse(s string) (Filter, error) {
	rs, err := interval.ParseRegionList(s)
	if err != nil {
		return Filter{}, errors.E(errors.Invalid, "subset.Parse", s, err)
	}
	switch len(rs) {
	case 0:
		return None(), nil
	case 1:
		return Single(rs[0]), nil
	}
	return Multi(rs...), nil
}

// FromBED returns the MultiRange filter of the intervals of a BED file,
// merged as by interval.ReadBED.
func FromBED(ctx context.Context, path string) (Filter, error) {
	rs, err := interval.LoadBED(ctx, path, interval.BEDOpts{})
	if err != nil {
		return Filter{}, errors.E("subset.FromBED", path, err)
	}
	return Multi(rs...), nil
}

// Key renders f in a form usable as a cache key.
func (f Filter) Key() string {
	var b strings.Builder
	b.WriteString(f.Kind.String())
	for _, r := range f.Ranges {
		fmt.Fprintf(&b, "|%s:%d-%d", r.Chrom, r.Start, r.End)
	}
	if f.Desc != "" {
		b.WriteString("|" + f.Desc)
	}
	return b.String()
}

// Empty reports whether f keeps no row whatever the input.
func (f Filter) Empty() bool {
	switch f.Kind {
	case Unrestricted:
		return false
	case SingleRange:
		return len(f.Ranges) == 0
	case MultiRange:
		return len(f.Ranges) == 0
	}
	return true
}

// active returns the ranges to test rows against, given the query window.
// MultiRange skips the ranges that cannot match a row of the window.
func (f Filter) active(window interval.GenomeRange) []interval.GenomeRange {
	switch f.Kind {
	case SingleRange:
		if len(f.Ranges) == 0 {
			return nil
		}
		return f.Ranges[:1]
	case MultiRange:
		var rs []interval.GenomeRange
		for _, r := range f.Ranges {
			if !window.Disjoint(r) {
				rs = append(rs, r)
			}
		}
		return rs
	}
	return nil
}

// Coverage returns the records of recs kept by f.  Window is the range the
// records were queried with.
func (f Filter) Coverage(recs []coverage.Record, window interval.GenomeRange) []coverage.Record {
	switch f.Kind {
	case Unrestricted:
		return recs
	case SingleRange, MultiRange:
		rs := f.active(window)
		out := []coverage.Record{}
		for _, rec := range recs {
			for _, r := range rs {
				if r.Contains(rec.Chrom, rec.Start, rec.Stop) {
					out = append(out, rec)
					break
				}
			}
		}
		return out
	}
	return []coverage.Record{}
}

// Loops returns the loops of recs kept by f.  Window is the range the loops
// were queried with.
func (f Filter) Loops(recs []loops.Record, window interval.GenomeRange) []loops.Record {
	switch f.Kind {
	case Unrestricted:
		return recs
	case SingleRange, MultiRange:
		rs := f.active(window)
		out := []loops.Record{}
		for _, rec := range recs {
			for _, r := range rs {
				if r.Contains(rec.Chrom1, rec.Start1, rec.End1) || r.Contains(rec.Chrom2, rec.Start2, rec.End2) {
					out = append(out, rec)
					break
				}
			}
		}
		return out
	}
	return []loops.Record{}
}
