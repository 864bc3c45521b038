package track

import (
	"context"
	"fmt"

	"github.com/grailbio/trackpyramid/subset"
)

// Layer is a dataset drawn with fixed settings.  It caches the last profile
// so that redrawing an unchanged window does not touch the store.
type Layer struct {
	Dataset Dataset
	Filter  subset.Filter
	// Samples and Target are passed on to Request.
	Samples, Target int

	cache Cache
}

// NewLayer returns an unfiltered layer over ds.
func NewLayer(ds Dataset) *Layer {
	return &Layer{Dataset: ds}
}

// Profile returns the table of the layer over [start, end) on chrom.
func (l *Layer) Profile(ctx context.Context, chrom string, start, end int64) (*Table, error) {
	key := Key{
		Chrom: chrom,
		Start: start,
		End:   end,
		Extra: fmt.Sprintf("%s|samples=%d|target=%d", l.Filter.Key(), l.Samples, l.Target),
	}
	return l.cache.GetOrCompute(key, func() (*Table, error) {
		return l.Dataset.Profile(ctx, Request{
			Chrom:   chrom,
			Start:   start,
			End:     end,
			Filter:  l.Filter,
			Samples: l.Samples,
			Target:  l.Target,
		})
	})
}

// SetFilter changes the subset filter of the layer.
func (l *Layer) SetFilter(f subset.Filter) {
	l.Filter = f
}

// Stats returns the cache hit and miss counts.
func (l *Layer) Stats() (hits, misses int) {
	return l.cache.Hits, l.cache.Misses
}

// Invalidate drops the cached profile, e.g. after the pyramid was rebuilt.
func (l *Layer) Invalidate() {
	l.cache.Invalidate()
}
