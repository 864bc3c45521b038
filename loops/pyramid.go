package loops

import (
	"context"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/trackpyramid/interval"
	"github.com/grailbio/trackpyramid/metrics"
	"github.com/grailbio/trackpyramid/pyramid"
	"github.com/grailbio/trackpyramid/store"
)

// Kind is the metrics label of loop pyramids.
const Kind = "loops"

// DefaultTarget is the number of loops a query aims to show.
const DefaultTarget = 100

// Pyramid is a loop pyramid over a bedpe file.
type Pyramid struct {
	Path    string
	Opts    pyramid.Options
	Store   store.Store
	Metrics *metrics.Registry
}

// New creates a handle on the pyramid over path.
func New(path string, opts pyramid.Options, s store.Store) *Pyramid {
	return &Pyramid{Path: path, Opts: opts, Store: s}
}

// Present reports whether every level of the pyramid has been built.
func (p *Pyramid) Present(ctx context.Context) bool {
	return pyramid.Present(ctx, p.Store, p.Path, p.Opts)
}

// Index builds the pyramid.  The input is loaded, sorted and validated
// before anything is written; level i holds level i-1 (or the input, for
// level 0) decimated at resolution Factor^(i+1).
func (p *Pyramid) Index(ctx context.Context) error {
	if err := p.Opts.Validate(); err != nil {
		return err
	}
	if p.Present(ctx) {
		log.Debug.Printf("loops: %s already indexed", p.Path)
		return nil
	}
	recs, err := p.load(ctx)
	if err != nil {
		return err
	}
	Sort(recs)
	if err := Validate(recs); err != nil {
		return errors.E("loops.Index", p.Path, err)
	}
	if err := p.writeLevel(ctx, pyramid.Raw, recs); err != nil {
		return err
	}
	for _, level := range p.Opts.Levels() {
		if err := ctx.Err(); err != nil {
			return errors.E("loops.Index", p.Path, err)
		}
		recs = Decimate(recs, p.Opts.Step(level))
		if err := p.writeLevel(ctx, level, recs); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pyramid) load(ctx context.Context) (recs []Record, err error) {
	in, err := file.Open(ctx, p.Path)
	if err != nil {
		return nil, errors.E("loops.Index", p.Path, err)
	}
	defer file.CloseAndReport(ctx, in, &err)
	if recs, err = Read(in.Reader(ctx)); err != nil {
		return nil, errors.E("loops.Index", p.Path, err)
	}
	return recs, nil
}

func (p *Pyramid) writeLevel(ctx context.Context, level pyramid.Level, recs []Record) error {
	dst := p.Opts.LevelPath(p.Path, level)
	start := time.Now()
	if err := p.Store.Write(ctx, dst, store.LoopLayout, rows(recs)); err != nil {
		return errors.E("loops.Index", p.Path, err)
	}
	p.Metrics.RecordBuild(Kind, level.String(), len(recs), time.Since(start))
	log.Printf("loops: wrote level %v of %s (resolution %d, %d loops)", level, p.Path, p.Opts.Step(level), len(recs))
	return nil
}

// Query returns the loops overlapping gr.  With a non-nil level, that level
// is read.  Otherwise the levels are searched from the most downsampled one
// toward level 0 for the first holding more than target loops, and the
// level chosen by Opts.Budget is returned; if no level holds more than
// target loops, the raw data is returned.
//
// For example, with levels 3, 2, 1, 0 holding 5, 40, 150 and 900 loops
// and a target of 100, the AtLeastTarget budget (the default) returns the
// 150 loops of level 1, while PreviousLevel returns the 40 loops of level 2.
// Only the returned level is counted in Metrics.
func (p *Pyramid) Query(ctx context.Context, gr interval.GenomeRange, target int, level *pyramid.Level) ([]Record, pyramid.Level, error) {
	if level != nil {
		recs, err := p.QueryLevel(ctx, gr, *level)
		return recs, *level, err
	}
	if target < 0 {
		return nil, pyramid.Raw, errors.E(errors.Invalid, "loops.Query", "negative target")
	}
	var (
		prev      []Record
		prevLevel = pyramid.Raw
	)
	for l := p.Opts.Depth - 1; l >= 0; l-- {
		if err := ctx.Err(); err != nil {
			return nil, pyramid.Raw, errors.E("loops.Query", p.Path, err)
		}
		cur := pyramid.Level(l)
		recs, err := p.readLevel(ctx, gr, cur)
		if err != nil {
			return nil, pyramid.Raw, err
		}
		if len(recs) > target {
			if p.Opts.Budget == pyramid.PreviousLevel && prevLevel != pyramid.Raw {
				recs, cur = prev, prevLevel
			}
			log.Debug.Printf("loops: %s %v target=%d -> level %v (%d loops)", p.Path, gr, target, cur, len(recs))
			p.Metrics.RecordQuery(Kind, cur.String(), len(recs))
			return recs, cur, nil
		}
		prev, prevLevel = recs, cur
	}
	log.Debug.Printf("loops: %s %v target=%d -> raw", p.Path, gr, target)
	recs, err := p.QueryLevel(ctx, gr, pyramid.Raw)
	return recs, pyramid.Raw, err
}

// QueryLevel returns the loops of one level overlapping gr.
func (p *Pyramid) QueryLevel(ctx context.Context, gr interval.GenomeRange, level pyramid.Level) ([]Record, error) {
	recs, err := p.readLevel(ctx, gr, level)
	if err != nil {
		return nil, err
	}
	p.Metrics.RecordQuery(Kind, level.String(), len(recs))
	return recs, nil
}

func (p *Pyramid) readLevel(ctx context.Context, gr interval.GenomeRange, level pyramid.Level) ([]Record, error) {
	if err := pyramid.CheckLevel(ctx, p.Store, p.Path, p.Opts, level); err != nil {
		return nil, err
	}
	p.Metrics.RecordStoreRead(Kind)
	sc, err := p.Store.Read(ctx, p.Opts.LevelPath(p.Path, level), gr)
	if err != nil {
		return nil, errors.E("loops.Query", p.Path, err)
	}
	recs, err := ReadScanner(sc)
	if err != nil {
		return nil, errors.E("loops.Query", p.Path, err)
	}
	return recs, nil
}
