// Package store is the interval store adapter: it bulk-loads sorted rows
// into a range-queryable artifact and streams back the rows overlapping a
// genomic range.  Rows are opaque tab-separated fields; a Layout names the
// columns holding a row's span.
//
// Two implementations are provided. BGZFStore writes block-gzipped TSV, which
// htslib tools can decompress, plus a .gti coordinate index mapping positions
// to virtual offsets.  MemStore keeps rows in memory and is meant for
// unittests.
package store

import (
	"context"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/trackpyramid/interval"
)

// Layout names the 0-based columns holding a row's chromosome, start and
// end.  The span [begin, end) is what range reads are matched against.
type Layout struct {
	NameColumn  int
	BeginColumn int
	EndColumn   int
}

var (
	// CoverageLayout is the layout of bedGraph-like rows:
	// chrom, start, stop, value.
	CoverageLayout = Layout{NameColumn: 0, BeginColumn: 1, EndColumn: 2}
	// LoopLayout is the layout of bedpe-like rows:
	// chrom1, start1, end1, chrom2, start2, end2, value.
	// A loop is indexed over [start1, end2).
	LoopLayout = Layout{NameColumn: 0, BeginColumn: 1, EndColumn: 5}
)

func (l Layout) width() int {
	w := l.NameColumn
	if l.BeginColumn > w {
		w = l.BeginColumn
	}
	if l.EndColumn > w {
		w = l.EndColumn
	}
	return w + 1
}

func (l Layout) validate() error {
	if l.NameColumn < 0 || l.BeginColumn < 0 || l.EndColumn < 0 {
		return errors.E(errors.Invalid, "store: negative column in layout")
	}
	if l.NameColumn == l.BeginColumn || l.NameColumn == l.EndColumn {
		return errors.E(errors.Invalid, "store: name column overlaps span columns")
	}
	return nil
}

// Span extracts the chromosome and [begin, end) span of a row.
func (l Layout) Span(fields []string) (chrom string, begin, end int64, err error) {
	if len(fields) < l.width() {
		err = errors.E(errors.Invalid, "store: row has", strconv.Itoa(len(fields)), "fields, layout needs", strconv.Itoa(l.width()))
		return
	}
	chrom = fields[l.NameColumn]
	if begin, err = strconv.ParseInt(fields[l.BeginColumn], 10, 64); err != nil {
		err = errors.E(errors.Invalid, "store: begin column", err)
		return
	}
	if end, err = strconv.ParseInt(fields[l.EndColumn], 10, 64); err != nil {
		err = errors.E(errors.Invalid, "store: end column", err)
		return
	}
	if begin < 0 || end < begin {
		err = errors.E(errors.Invalid, "store: invalid span", fields[l.BeginColumn], fields[l.EndColumn])
	}
	return
}

// RowIterator yields rows to be written. Scanner satisfies it, so the rows
// of one artifact can be copied into another.
type RowIterator interface {
	// Scan advances to the next row, returning false at the end or on error.
	Scan() bool
	// Fields returns the current row.  The slice may be reused by the next
	// call to Scan.
	Fields() []string
	// Err returns the error that stopped iteration, if any.
	Err() error
}

// Scanner streams the rows returned by Store.Read, in storage order.
// Thread compatible.
type Scanner interface {
	RowIterator
	// Close must be called exactly once.  It returns the value of Err().
	Close() error
}

// Store is the capability the pyramids need from an indexed store.
type Store interface {
	// Exists reports whether a complete artifact exists at path.
	Exists(ctx context.Context, path string) bool

	// Write bulk-loads rows, which must be sorted by (chromosome, begin)
	// with every chromosome contiguous, into a new artifact at path.  It is
	// a no-op if the artifact already exists.
	Write(ctx context.Context, path string, layout Layout, rows RowIterator) error

	// Read streams every row of the artifact at path whose span overlaps r.
	Read(ctx context.Context, path string, r interval.GenomeRange) (Scanner, error)
}

// IsStoreError reports whether err came from a failed store operation
// (I/O failure, missing or corrupt artifact).
func IsStoreError(err error) bool {
	return errors.Is(errors.Unavailable, err)
}

func storeError(op, path string, err error) error {
	return errors.E(errors.Unavailable, op, path, err)
}

// SliceRows adapts a slice of rows to a RowIterator.
func SliceRows(rows [][]string) RowIterator {
	return &sliceRows{rows: rows, i: -1}
}

type sliceRows struct {
	rows [][]string
	i    int
}

func (s *sliceRows) Scan() bool {
	if s.i+1 >= len(s.rows) {
		s.i = len(s.rows)
		return false
	}
	s.i++
	return true
}

func (s *sliceRows) Fields() []string { return s.rows[s.i] }
func (s *sliceRows) Err() error       { return nil }
func (s *sliceRows) Close() error     { return nil }

type errorScanner struct {
	err error
}

func (s *errorScanner) Scan() bool       { return false }
func (s *errorScanner) Fields() []string { panic("shall not be called") }
func (s *errorScanner) Err() error       { return s.err }
func (s *errorScanner) Close() error     { return s.err }

// NewErrorScanner creates a Scanner that yields no row and returns "err"
// in Err and Close.  A nil err gives an empty scanner.
func NewErrorScanner(err error) Scanner {
	return &errorScanner{err: err}
}

// ReadAll drains a scanner, closing it.
func ReadAll(s Scanner) (rows [][]string, err error) {
	for s.Scan() {
		fields := s.Fields()
		row := make([]string, len(fields))
		copy(row, fields)
		rows = append(rows, row)
	}
	err = s.Close()
	return
}

// sortChecker enforces the write-order contract shared by all stores.
type sortChecker struct {
	names     []string
	seen      map[string]int
	prevBegin int64
}

func newSortChecker() *sortChecker {
	return &sortChecker{seen: map[string]int{}}
}

// check returns the reference ID assigned to chrom.
func (c *sortChecker) check(path, chrom string, begin int64) (int, error) {
	n := len(c.names)
	if n == 0 || c.names[n-1] != chrom {
		if _, found := c.seen[chrom]; found {
			return -1, errors.E(errors.Invalid, "store.Write", path, "unsorted input (split chromosome "+chrom+")")
		}
		c.seen[chrom] = n
		c.names = append(c.names, chrom)
		c.prevBegin = begin
		return n, nil
	}
	if begin < c.prevBegin {
		return -1, errors.E(errors.Invalid, "store.Write", path, "unsorted input on "+chrom+" at "+strconv.FormatInt(begin, 10))
	}
	c.prevBegin = begin
	return n - 1, nil
}
