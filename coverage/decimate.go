package coverage

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/trackpyramid/pyramid"
)

// Bin is one output interval of a Decimator.
type Bin struct {
	Chrom string
	Start int64
	Stop  int64
	// Sum is the sum of value*(stop-start) over the records folded into the
	// bin.
	Sum float64
	// Max is the largest value of the records folded into the bin.
	Max float64
	// Count is the number of records folded into the bin.
	Count int
	// Tail is set on the bin flushed at the end of the input.
	Tail bool
	// Passthrough is set when the bin is a single record wider than the
	// step, copied as is.
	Passthrough bool
}

// Value reduces b to a single value according to stat.
func (b Bin) Value(stat pyramid.Stat) float64 {
	if b.Passthrough {
		return b.Max
	}
	switch stat {
	case pyramid.StatMean:
		return b.Sum / float64(b.Stop-b.Start)
	case pyramid.StatLegacy:
		if b.Tail {
			return b.Max / float64(b.Stop-b.Start)
		}
	}
	return b.Max
}

// bucket is the fold state of a Decimator.
type bucket struct {
	chrom  string
	lo, hi int64
	sum    float64
	max    float64
	n      int
	set    bool
}

func (b *bucket) reset(chrom string, lo, hi int64) {
	*b = bucket{chrom: chrom, lo: lo, hi: hi, max: math.Inf(-1), set: true}
}

func (b *bucket) add(r Record) {
	b.sum += r.Value * float64(r.Width())
	if r.Value > b.max {
		b.max = r.Value
	}
	b.n++
}

func (b *bucket) bin(stop int64, tail bool) Bin {
	return Bin{Chrom: b.chrom, Start: b.lo, Stop: stop, Sum: b.sum, Max: b.max, Count: b.n, Tail: tail}
}

// Decimator folds a sorted record stream into bins of (about) step bases.
// Each chromosome starts with the bucket [0, step).  A record starting at or
// past the end of the current bucket flushes it and opens [start,
// start+step); a record wider than step is passed through as its own bin; a
// record straddling the end of the bucket closes it at the record's stop.
//
// Decimator is itself an Iterator, yielding one Record per bin with the value
// chosen by Stat, so decimators can be chained.
//
// Example:
//
//	d := NewDecimator(NewReader(r), 100)
//	d.Stat = pyramid.StatMean
//	for d.Scan() {
//	  rec := d.Record()
//	}
//	err := d.Err()
type Decimator struct {
	// Stat selects the value of the records returned by Record.  The zero
	// value means pyramid.StatMax.
	Stat pyramid.Stat

	in   Iterator
	step int64

	b       bucket
	out     []Bin
	cur     Bin
	started bool
	done    bool
	err     error

	prevStart int64
	seen      map[string]bool
}

// NewDecimator creates a decimator over in.  Step must be positive.
func NewDecimator(in Iterator, step int64) *Decimator {
	if step <= 0 {
		panic(fmt.Sprintf("coverage.NewDecimator: step %d", step))
	}
	return &Decimator{in: in, step: step, seen: map[string]bool{}}
}

// Scan advances to the next bin.
func (d *Decimator) Scan() bool {
	for len(d.out) == 0 {
		if d.done || d.err != nil {
			return false
		}
		d.fold()
	}
	d.cur, d.out = d.out[0], d.out[1:]
	return true
}

// Bin returns the current bin.
func (d *Decimator) Bin() Bin { return d.cur }

// Record returns the current bin as a record.
func (d *Decimator) Record() Record {
	return Record{Chrom: d.cur.Chrom, Start: d.cur.Start, Stop: d.cur.Stop, Value: d.cur.Value(d.Stat)}
}

// Err returns the error that stopped decimation, if any.
func (d *Decimator) Err() error { return d.err }

func (d *Decimator) emit(b Bin) { d.out = append(d.out, b) }

// flush emits the pending bucket, if it holds any record.
func (d *Decimator) flush(tail bool) {
	if d.b.set && d.b.n > 0 {
		d.emit(d.b.bin(d.b.hi, tail))
	}
	d.b.set = false
}

// fold consumes one input record.
func (d *Decimator) fold() {
	if !d.in.Scan() {
		if d.err = d.in.Err(); d.err == nil {
			d.flush(true)
		}
		d.done = true
		return
	}
	r := d.in.Record()
	if r.Stop < r.Start || r.Start < 0 {
		d.err = errors.E(errors.Invalid, "coverage.Decimate", fmt.Sprintf("invalid record %s:%d-%d", r.Chrom, r.Start, r.Stop))
		return
	}
	if !d.started || r.Chrom != d.b.chrom {
		if d.seen[r.Chrom] {
			d.err = errors.E(errors.Invalid, "coverage.Decimate", "unsorted input: chromosome "+r.Chrom+" is not contiguous")
			return
		}
		d.flush(false)
		d.seen[r.Chrom] = true
		d.started = true
		d.b.reset(r.Chrom, 0, d.step)
		d.prevStart = r.Start
	} else if r.Start < d.prevStart {
		d.err = errors.E(errors.Invalid, "coverage.Decimate", fmt.Sprintf("unsorted input at %s:%d", r.Chrom, r.Start))
		return
	}
	d.prevStart = r.Start

	switch {
	case !d.b.set || r.Start >= d.b.hi:
		d.flush(false)
		if r.Width() > d.step {
			d.emit(Bin{Chrom: r.Chrom, Start: r.Start, Stop: r.Stop, Sum: r.Value * float64(r.Width()),
				Max: r.Value, Count: 1, Passthrough: true})
			d.b.chrom = r.Chrom
			return
		}
		d.b.reset(r.Chrom, r.Start, r.Start+d.step)
		d.b.add(r)
	case r.Stop > d.b.hi:
		d.b.add(r)
		d.emit(d.b.bin(r.Stop, false))
		d.b.set = false
	default:
		d.b.add(r)
	}
}

// Decimate returns the records of in folded with step; see Decimator.
func Decimate(in Iterator, step int64) ([]Bin, error) {
	d := NewDecimator(in, step)
	var bins []Bin
	for d.Scan() {
		bins = append(bins, d.Bin())
	}
	return bins, d.Err()
}
