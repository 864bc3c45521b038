// Package coverage implements the coverage pyramid: bedGraph-like records
// (chrom, start, stop, value) are folded into progressively coarser bins,
// each level persisted to an indexed store, and range queries are answered
// from the coarsest level that still gives the requested number of samples.
package coverage

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/trackpyramid/store"
)

// Record is one coverage interval, [Start, Stop) on Chrom, 0-based.
type Record struct {
	Chrom string
	Start int64
	Stop  int64
	Value float64
}

// Width returns Stop - Start.
func (r Record) Width() int64 { return r.Stop - r.Start }

// Fields renders r as store row fields.
func (r Record) Fields() []string {
	return []string{
		r.Chrom,
		strconv.FormatInt(r.Start, 10),
		strconv.FormatInt(r.Stop, 10),
		strconv.FormatFloat(r.Value, 'g', -1, 64),
	}
}

// ParseRecord parses store row fields.  Columns past the fourth are ignored.
func ParseRecord(fields []string) (Record, error) {
	if len(fields) < 4 {
		return Record{}, errors.E(errors.Invalid, "coverage.ParseRecord", "expected 4 fields, got", strconv.Itoa(len(fields)))
	}
	var (
		r   = Record{Chrom: fields[0]}
		err error
	)
	if r.Start, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
		return Record{}, errors.E(errors.Invalid, "coverage.ParseRecord", "start", err)
	}
	if r.Stop, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
		return Record{}, errors.E(errors.Invalid, "coverage.ParseRecord", "stop", err)
	}
	if r.Value, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return Record{}, errors.E(errors.Invalid, "coverage.ParseRecord", "value", err)
	}
	return r, nil
}

// Iterator yields coverage records in (chromosome, start) order.
type Iterator interface {
	Scan() bool
	Record() Record
	Err() error
}

// SliceIterator iterates over records held in memory.
func SliceIterator(recs []Record) Iterator {
	return &sliceIterator{recs: recs, i: -1}
}

type sliceIterator struct {
	recs []Record
	i    int
}

func (s *sliceIterator) Scan() bool {
	if s.i+1 >= len(s.recs) {
		s.i = len(s.recs)
		return false
	}
	s.i++
	return true
}

func (s *sliceIterator) Record() Record { return s.recs[s.i] }
func (s *sliceIterator) Err() error     { return nil }

// ReadAll drains an iterator.
func ReadAll(it Iterator) ([]Record, error) {
	var recs []Record
	for it.Scan() {
		recs = append(recs, it.Record())
	}
	return recs, it.Err()
}

// bedGraphRow is the on-disk layout of a bedGraph line.
type bedGraphRow struct {
	Chrom string
	Start int64
	Stop  int64
	Value float64
}

// NewReader parses a bedGraph stream.  Comment lines ('#') and the UCSC
// "track" and "browser" header lines are skipped.
func NewReader(r io.Reader) Iterator {
	tr := tsv.NewReader(&headerFilter{r: bufio.NewReader(r)})
	tr.Comment = '#'
	return &tsvIterator{r: tr}
}

type tsvIterator struct {
	r    *tsv.Reader
	rec  Record
	line int
	err  error
}

func (t *tsvIterator) Scan() bool {
	if t.err != nil {
		return false
	}
	var row bedGraphRow
	if err := t.r.Read(&row); err != nil {
		if err != io.EOF {
			t.err = errors.E(errors.Invalid, "coverage.NewReader", "row", strconv.Itoa(t.line+1), err)
		}
		return false
	}
	t.line++
	t.rec = Record(row)
	return true
}

func (t *tsvIterator) Record() Record { return t.rec }
func (t *tsvIterator) Err() error     { return t.err }

// headerFilter drops "track" and "browser" lines from a bedGraph stream.
type headerFilter struct {
	r   *bufio.Reader
	buf []byte
	err error
}

func (h *headerFilter) Read(p []byte) (int, error) {
	for len(h.buf) == 0 {
		if h.err != nil {
			return 0, h.err
		}
		var line []byte
		line, h.err = h.r.ReadBytes('\n')
		if bytes.HasPrefix(line, []byte("track")) || bytes.HasPrefix(line, []byte("browser")) {
			continue
		}
		h.buf = line
	}
	n := copy(p, h.buf)
	h.buf = h.buf[n:]
	return n, nil
}

// storeIterator parses the rows of a store scan.
type storeIterator struct {
	s   store.Scanner
	rec Record
	err error
}

// NewStoreIterator adapts a store scan of coverage rows.  The scanner is
// closed when iteration ends.
func NewStoreIterator(s store.Scanner) Iterator {
	return &storeIterator{s: s}
}

func (it *storeIterator) Scan() bool {
	if it.s == nil {
		return false
	}
	if it.s.Scan() {
		rec, err := ParseRecord(it.s.Fields())
		if err == nil {
			it.rec = rec
			return true
		}
		it.err = err
	}
	if err := it.s.Close(); err != nil && it.err == nil {
		it.err = err
	}
	it.s = nil
	return false
}

func (it *storeIterator) Record() Record { return it.rec }
func (it *storeIterator) Err() error     { return it.err }

// rowIterator renders records as store rows.
type rowIterator struct {
	it Iterator
	n  int
}

func (r *rowIterator) Scan() bool {
	if r.it.Scan() {
		r.n++
		return true
	}
	return false
}

func (r *rowIterator) Fields() []string { return r.it.Record().Fields() }
func (r *rowIterator) Err() error       { return r.it.Err() }
