// Package track is the query façade over coverage and loop pyramids.  A
// Dataset answers profile requests for a genomic window: it picks the pyramid
// level, reads it, applies the subset filter and returns a typed Table.
//
// Example:
//
//	ds, err := track.Open("/data/sample.bedgraph", store.NewBGZFStore(), track.Options{})
//	...
//	table, err := ds.Profile(ctx, track.Request{Chrom: "3", Start: 0, End: 1e6})
package track

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/trackpyramid/coverage"
	"github.com/grailbio/trackpyramid/interval"
	"github.com/grailbio/trackpyramid/loops"
	"github.com/grailbio/trackpyramid/metrics"
	"github.com/grailbio/trackpyramid/pyramid"
	"github.com/grailbio/trackpyramid/store"
	"github.com/grailbio/trackpyramid/subset"
)

// DefaultSamples is the number of samples of a coverage profile when the
// request does not say.
const DefaultSamples = 1000

// Request is a profile query.
type Request struct {
	// Chrom is the chromosome, with or without the dataset's prefix.
	Chrom string
	// Start and End bound the window, 0-based half-open.
	Start, End int64
	// Filter narrows the rows returned.
	Filter subset.Filter
	// Samples is the coverage fidelity budget; 0 means DefaultSamples.
	Samples int
	// Target is the loop fidelity budget; 0 means loops.DefaultTarget.
	Target int
	// Level, if set, forces the level read.
	Level *pyramid.Level
}

// Dataset is a pyramid-backed track.
type Dataset interface {
	// Kind returns the kind of rows the dataset holds.
	Kind() Kind
	// Label returns a display name.
	Label() string
	// Profile answers a request.
	Profile(ctx context.Context, req Request) (*Table, error)
}

// Options configures Open.
type Options struct {
	// Pyramid overrides the pyramid options of the dataset kind.
	Pyramid *pyramid.Options
	// Label overrides the label derived from the file name.
	Label string
	// Metrics, if set, records build and query statistics.
	Metrics *metrics.Registry
}

// KindOf returns the dataset kind of path from its extension.  A trailing
// ".gz" is ignored.
func KindOf(path string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSuffix(path, ".gz"))) {
	case ".bedgraph", ".bg", ".bdg":
		return Coverage, nil
	case ".bedpe":
		return Loops, nil
	}
	return 0, errors.E(errors.Invalid, "track.KindOf", path, "unknown track extension")
}

func defaultLabel(path string) string {
	base := filepath.Base(strings.TrimSuffix(path, ".gz"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Open returns the dataset over path, choosing its kind from the extension.
// The pyramid is not built; see Index.
func Open(path string, s store.Store, opts Options) (Dataset, error) {
	kind, err := KindOf(path)
	if err != nil {
		return nil, err
	}
	label := opts.Label
	if label == "" {
		label = defaultLabel(path)
	}
	switch kind {
	case Loops:
		popts := pyramid.DefaultLoopOptions
		if opts.Pyramid != nil {
			popts = *opts.Pyramid
		}
		p := loops.New(path, popts, s)
		p.Metrics = opts.Metrics
		return &LoopData{label: label, Pyramid: p}, nil
	default:
		popts := pyramid.DefaultCoverageOptions
		if opts.Pyramid != nil {
			popts = *opts.Pyramid
		}
		p := coverage.New(path, popts, s)
		p.Metrics = opts.Metrics
		return &CoverageData{label: label, Pyramid: p}, nil
	}
}

// Index builds the pyramid behind ds.
func Index(ctx context.Context, ds Dataset) error {
	switch d := ds.(type) {
	case *CoverageData:
		return d.Pyramid.Index(ctx)
	case *LoopData:
		return d.Pyramid.Index(ctx)
	}
	return errors.E(errors.NotSupported, "track.Index", ds.Label())
}

// window builds the query range, prefixing the chromosome if needed.
func window(prefix string, req Request) (interval.GenomeRange, error) {
	chrom := req.Chrom
	if prefix != "" && !strings.HasPrefix(chrom, prefix) {
		chrom = prefix + chrom
	}
	gr, err := interval.NewGenomeRange(chrom, req.Start, req.End)
	if err != nil {
		return gr, errors.E(errors.Invalid, "track.Profile", err)
	}
	return gr, nil
}

// CoverageData is a coverage track.
type CoverageData struct {
	label   string
	Pyramid *coverage.Pyramid
}

// Kind implements Dataset.
func (d *CoverageData) Kind() Kind { return Coverage }

// Label implements Dataset.
func (d *CoverageData) Label() string { return d.label }

// Profile implements Dataset.
func (d *CoverageData) Profile(ctx context.Context, req Request) (*Table, error) {
	if req.Filter.Empty() {
		log.Debug.Printf("track: %s: subset %s keeps no rows", d.label, req.Filter.Key())
		return emptyTable(Coverage), nil
	}
	gr, err := window(d.Pyramid.Opts.ChromPrefix, req)
	if err != nil {
		return nil, err
	}
	var (
		recs  []coverage.Record
		level pyramid.Level
	)
	if req.Level != nil {
		level = *req.Level
		recs, err = d.Pyramid.QueryLevel(ctx, gr, level)
	} else {
		samples := req.Samples
		if samples == 0 {
			samples = DefaultSamples
		}
		recs, level, err = d.Pyramid.Query(ctx, gr, samples)
	}
	if err != nil {
		return nil, err
	}
	return &Table{Kind: Coverage, Level: level, Coverage: req.Filter.Coverage(recs, gr)}, nil
}

// LoopData is a loop track.
type LoopData struct {
	label   string
	Pyramid *loops.Pyramid
}

// Kind implements Dataset.
func (d *LoopData) Kind() Kind { return Loops }

// Label implements Dataset.
func (d *LoopData) Label() string { return d.label }

// Profile implements Dataset.
func (d *LoopData) Profile(ctx context.Context, req Request) (*Table, error) {
	if req.Filter.Empty() {
		log.Debug.Printf("track: %s: subset %s keeps no rows", d.label, req.Filter.Key())
		return emptyTable(Loops), nil
	}
	gr, err := window(d.Pyramid.Opts.ChromPrefix, req)
	if err != nil {
		return nil, err
	}
	target := req.Target
	if target == 0 {
		target = loops.DefaultTarget
	}
	recs, level, err := d.Pyramid.Query(ctx, gr, target, req.Level)
	if err != nil {
		return nil, err
	}
	return &Table{Kind: Loops, Level: level, Loops: req.Filter.Loops(recs, gr)}, nil
}
