package coverage

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/trackpyramid/interval"
	"github.com/grailbio/trackpyramid/metrics"
	"github.com/grailbio/trackpyramid/pyramid"
	"github.com/grailbio/trackpyramid/store"
	"github.com/klauspost/compress/gzip"
)

// Kind is the metrics label of coverage pyramids.
const Kind = "coverage"

// Pyramid is a coverage pyramid over a bedGraph file.
type Pyramid struct {
	// Path is the bedGraph file the pyramid is built from.  A ".gz" suffix
	// means the file is gzip-compressed.
	Path string
	Opts pyramid.Options
	// Store holds the level artifacts.
	Store store.Store
	// Metrics, if set, records build and query statistics.
	Metrics *metrics.Registry
}

// New creates a handle on the pyramid over path.  Nothing is read or written
// until Index or Query is called.
func New(path string, opts pyramid.Options, s store.Store) *Pyramid {
	return &Pyramid{Path: path, Opts: opts, Store: s}
}

// Present reports whether every level of the pyramid has been built.
func (p *Pyramid) Present(ctx context.Context) bool {
	return pyramid.Present(ctx, p.Store, p.Path, p.Opts)
}

// Index builds the pyramid: the raw level, then Depth levels, level i holding
// the input decimated with step Factor^(i+1).  Index is a no-op when the
// pyramid is already present.  Artifacts left by an interrupted build are
// reused.
func (p *Pyramid) Index(ctx context.Context) error {
	if err := p.Opts.Validate(); err != nil {
		return err
	}
	if p.Present(ctx) {
		log.Debug.Printf("coverage: %s already indexed", p.Path)
		return nil
	}
	if err := p.writeLevel(ctx, pyramid.Raw); err != nil {
		return err
	}
	for _, level := range p.Opts.Levels() {
		if err := ctx.Err(); err != nil {
			return errors.E("coverage.Index", p.Path, err)
		}
		if err := p.writeLevel(ctx, level); err != nil {
			return err
		}
	}
	return nil
}

// writeLevel streams the input through level+1 chained decimators and writes
// the result.
func (p *Pyramid) writeLevel(ctx context.Context, level pyramid.Level) (err error) {
	dst := p.Opts.LevelPath(p.Path, level)
	if p.Store.Exists(ctx, dst) {
		log.Printf("coverage: reusing level %v of %s", level, p.Path)
		return nil
	}
	start := time.Now()
	in, closer, err := p.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if e := closer(); e != nil && err == nil {
			err = errors.E(errors.Unavailable, "coverage.Index", p.Path, e)
		}
	}()
	var it Iterator = NewReader(in)
	for l := pyramid.Level(0); l <= level; l++ {
		d := NewDecimator(it, p.Opts.Step(l))
		d.Stat = p.Opts.Stat
		it = d
	}
	rows := &rowIterator{it: it}
	if err = p.Store.Write(ctx, dst, store.CoverageLayout, rows); err != nil {
		return errors.E("coverage.Index", p.Path, err)
	}
	p.Metrics.RecordBuild(Kind, level.String(), rows.n, time.Since(start))
	log.Printf("coverage: wrote level %v of %s (step %d, %d rows) in %v",
		level, p.Path, p.Opts.Step(level), rows.n, time.Since(start))
	return nil
}

// open opens the input, decompressing it if needed.
func (p *Pyramid) open(ctx context.Context) (io.Reader, func() error, error) {
	f, err := file.Open(ctx, p.Path)
	if err != nil {
		return nil, nil, errors.E("coverage.Index", p.Path, err)
	}
	var r io.Reader = f.Reader(ctx)
	if !strings.HasSuffix(p.Path, ".gz") {
		return r, func() error { return f.Close(ctx) }, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		f.Close(ctx) // nolint: errcheck
		return nil, nil, errors.E(errors.Invalid, "coverage.Index", p.Path, err)
	}
	return gz, func() error {
		err := gz.Close()
		if e := f.Close(ctx); e != nil && err == nil {
			err = e
		}
		return err
	}, nil
}

// SelectLevel returns the deepest level whose step is at most resolution
// bases per sample, or pyramid.Raw if even level 0 is too coarse.
func SelectLevel(opts pyramid.Options, resolution float64) pyramid.Level {
	level := pyramid.Raw
	for _, l := range opts.Levels() {
		if float64(opts.Step(l)) <= resolution {
			level = l
		}
	}
	return level
}

// Resolution returns the number of bases per sample of a query for the given
// number of samples, assuming two samples per rendered pixel.
func Resolution(gr interval.GenomeRange, samples int) float64 {
	return float64(gr.End-gr.Start) / float64(samples*2)
}

// Query returns the records of the level suited to drawing gr with the
// given number of samples, along with that level.
func (p *Pyramid) Query(ctx context.Context, gr interval.GenomeRange, samples int) ([]Record, pyramid.Level, error) {
	if samples <= 0 {
		return nil, pyramid.Raw, errors.E(errors.Invalid, "coverage.Query", "samples must be positive")
	}
	level := SelectLevel(p.Opts, Resolution(gr, samples))
	log.Debug.Printf("coverage: %s %v samples=%d -> level %v", p.Path, gr, samples, level)
	recs, err := p.QueryLevel(ctx, gr, level)
	return recs, level, err
}

// QueryLevel returns the records of one level overlapping gr.
func (p *Pyramid) QueryLevel(ctx context.Context, gr interval.GenomeRange, level pyramid.Level) ([]Record, error) {
	if err := pyramid.CheckLevel(ctx, p.Store, p.Path, p.Opts, level); err != nil {
		return nil, err
	}
	p.Metrics.RecordStoreRead(Kind)
	sc, err := p.Store.Read(ctx, p.Opts.LevelPath(p.Path, level), gr)
	if err != nil {
		return nil, errors.E("coverage.Query", p.Path, err)
	}
	recs, err := ReadAll(NewStoreIterator(sc))
	if err != nil {
		return nil, errors.E("coverage.Query", p.Path, err)
	}
	p.Metrics.RecordQuery(Kind, level.String(), len(recs))
	return recs, nil
}
