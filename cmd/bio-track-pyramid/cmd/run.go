package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/trackpyramid/interval"
	"github.com/grailbio/trackpyramid/metrics"
	"github.com/grailbio/trackpyramid/pyramid"
	"github.com/grailbio/trackpyramid/store"
	"github.com/grailbio/trackpyramid/subset"
	"github.com/grailbio/trackpyramid/track"
)

type queryFlags struct {
	samples *int
	target  *int
	level   *string
	subset  *string
	bed     *string
}

// options returns the pyramid options of path: the defaults of its kind,
// overlaid with the config file, then with the flags that were set.
func options(ctx context.Context, pf pyramidFlags, path string) (pyramid.Options, error) {
	kind, err := track.KindOf(path)
	if err != nil {
		return pyramid.Options{}, err
	}
	opts := pyramid.DefaultCoverageOptions
	if kind == track.Loops {
		opts = pyramid.DefaultLoopOptions
	}
	if pf.config != nil && *pf.config != "" {
		if opts, err = pyramid.LoadOptions(ctx, *pf.config, opts); err != nil {
			return pyramid.Options{}, err
		}
	}
	if pf.factor != nil && *pf.factor != 0 {
		opts.Factor = *pf.factor
	}
	if pf.depth != nil && *pf.depth != 0 {
		opts.Depth = *pf.depth
	}
	if pf.stat != nil && *pf.stat != "" {
		opts.Stat = pyramid.Stat(*pf.stat)
	}
	if pf.indexDir != nil && *pf.indexDir != "" {
		opts.IndexDir = *pf.indexDir
	}
	return opts, opts.Validate()
}

func open(ctx context.Context, pf pyramidFlags, path string, reg *metrics.Registry) (track.Dataset, error) {
	opts, err := options(ctx, pf, path)
	if err != nil {
		return nil, err
	}
	return track.Open(path, store.NewBGZFStore(), track.Options{Pyramid: &opts, Metrics: reg})
}

func index(ctx context.Context, out io.Writer, pf pyramidFlags, metricsPath string, paths []string) error {
	reg := metrics.NewRegistry()
	for _, path := range paths {
		ds, err := open(ctx, pf, path, reg)
		if err != nil {
			return err
		}
		log.Printf("indexing %s (%v)", path, ds.Kind())
		if err := track.Index(ctx, ds); err != nil {
			return err
		}
	}
	switch metricsPath {
	case "":
		return nil
	case "-":
		return reg.WriteText(out)
	}
	return writeMetrics(ctx, reg, metricsPath)
}

func writeMetrics(ctx context.Context, reg *metrics.Registry, path string) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)
	return reg.WriteText(f.Writer(ctx))
}

func query(ctx context.Context, out io.Writer, pf pyramidFlags, qf queryFlags, path, region string) error {
	ds, err := open(ctx, pf, path, nil)
	if err != nil {
		return err
	}
	gr, err := interval.ParseRegionString(region)
	if err != nil {
		return errors.E(errors.Invalid, "query", region, err)
	}
	req := track.Request{Chrom: gr.Chrom, Start: gr.Start, End: gr.End}
	if qf.samples != nil {
		req.Samples = *qf.samples
	}
	if qf.target != nil {
		req.Target = *qf.target
	}
	if qf.level != nil && *qf.level != "" {
		l, err := pyramid.ParseLevel(*qf.level)
		if err != nil {
			return err
		}
		req.Level = &l
	}
	switch {
	case qf.bed != nil && *qf.bed != "":
		if req.Filter, err = subset.FromBED(ctx, *qf.bed); err != nil {
			return err
		}
	case qf.subset != nil && *qf.subset != "":
		if req.Filter, err = subset.Parse(*qf.subset); err != nil {
			return err
		}
	}
	table, err := ds.Profile(ctx, req)
	if err != nil {
		return err
	}
	log.Printf("%s %s: %d rows from level %v", ds.Label(), region, table.Len(), table.Level)
	return table.WriteTSV(out)
}

func levels(ctx context.Context, out io.Writer, pf pyramidFlags, path string) error {
	opts, err := options(ctx, pf, path)
	if err != nil {
		return err
	}
	s := store.NewBGZFStore()
	var b strings.Builder
	for _, l := range append([]pyramid.Level{pyramid.Raw}, opts.Levels()...) {
		dst := opts.LevelPath(path, l)
		fmt.Fprintf(&b, "%v\t%d\t%s\t%v\n", l, opts.Step(l), dst, s.Exists(ctx, dst))
	}
	_, err = io.WriteString(out, b.String())
	return err
}
