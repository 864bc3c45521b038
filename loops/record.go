// Package loops implements the loop pyramid: bedpe records, each pairing two
// anchors on the same chromosome, are merged into progressively coarser
// grids, and range queries pick the coarsest level that still shows enough
// loops.
package loops

import (
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/trackpyramid/store"
)

// Record is one loop: anchor A is [Start1, End1) on Chrom1 and anchor B is
// [Start2, End2) on Chrom2.
type Record struct {
	Chrom1 string
	Start1 int64
	End1   int64
	Chrom2 string
	Start2 int64
	End2   int64
	Value  float64
}

func (r Record) String() string {
	return fmt.Sprintf("%s:%d-%d/%s:%d-%d=%g", r.Chrom1, r.Start1, r.End1, r.Chrom2, r.Start2, r.End2, r.Value)
}

// Extent returns the distance spanned by the loop, End2 - Start1.
func (r Record) Extent() int64 { return r.End2 - r.Start1 }

// Fields renders r as store row fields.
func (r Record) Fields() []string {
	return []string{
		r.Chrom1,
		strconv.FormatInt(r.Start1, 10),
		strconv.FormatInt(r.End1, 10),
		r.Chrom2,
		strconv.FormatInt(r.Start2, 10),
		strconv.FormatInt(r.End2, 10),
		strconv.FormatFloat(r.Value, 'g', -1, 64),
	}
}

// ParseRecord parses store row fields.
func ParseRecord(fields []string) (Record, error) {
	if len(fields) < 7 {
		return Record{}, errors.E(errors.Invalid, "loops.ParseRecord", "expected 7 fields, got", strconv.Itoa(len(fields)))
	}
	r := Record{Chrom1: fields[0], Chrom2: fields[3]}
	for i, dst := range []*int64{&r.Start1, &r.End1, nil, &r.Start2, &r.End2} {
		if dst == nil {
			continue
		}
		v, err := strconv.ParseInt(fields[i+1], 10, 64)
		if err != nil {
			return Record{}, errors.E(errors.Invalid, "loops.ParseRecord", "column", strconv.Itoa(i+2), err)
		}
		*dst = v
	}
	v, err := strconv.ParseFloat(fields[6], 64)
	if err != nil {
		return Record{}, errors.E(errors.Invalid, "loops.ParseRecord", "value", err)
	}
	r.Value = v
	return r, nil
}

// Less orders records by (Chrom1, Chrom2, Start1, Start2).
func Less(a, b Record) bool {
	if a.Chrom1 != b.Chrom1 {
		return a.Chrom1 < b.Chrom1
	}
	if a.Chrom2 != b.Chrom2 {
		return a.Chrom2 < b.Chrom2
	}
	if a.Start1 != b.Start1 {
		return a.Start1 < b.Start1
	}
	return a.Start2 < b.Start2
}

// bedpeRow is the on-disk layout of a bedpe line.
type bedpeRow struct {
	Chrom1 string
	Start1 int64
	End1   int64
	Chrom2 string
	Start2 int64
	End2   int64
	Value  float64
}

// Read parses a bedpe stream.  Lines starting with '#' are skipped.
func Read(r io.Reader) ([]Record, error) {
	tr := tsv.NewReader(r)
	tr.Comment = '#'
	var recs []Record
	for {
		var row bedpeRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				return recs, nil
			}
			return nil, errors.E(errors.Invalid, "loops.Read", "row", strconv.Itoa(len(recs)+1), err)
		}
		recs = append(recs, Record(row))
	}
}

// ReadScanner parses the rows of a store scan, closing it.
func ReadScanner(s store.Scanner) ([]Record, error) {
	var recs []Record
	for s.Scan() {
		r, err := ParseRecord(s.Fields())
		if err != nil {
			s.Close() // nolint: errcheck
			return nil, err
		}
		recs = append(recs, r)
	}
	if err := s.Close(); err != nil {
		return nil, err
	}
	return recs, nil
}

// rows renders records as store rows.
func rows(recs []Record) store.RowIterator {
	fields := make([][]string, len(recs))
	for i, r := range recs {
		fields[i] = r.Fields()
	}
	return store.SliceRows(fields)
}
