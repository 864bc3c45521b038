package pyramid

import (
	"context"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/trackpyramid/interval"
	"gopkg.in/yaml.v3"
)

// DefaultIndexDir is the name of the directory, next to the input file, that
// holds the pyramid artifacts.
const DefaultIndexDir = ".glue_index"

// Stat names the statistic a coverage bin reports.
type Stat string

const (
	// StatMax reports the maximum value of the records folded into a bin.
	StatMax Stat = "max"
	// StatMean reports the width-weighted mean, Sum/(Stop-Start).
	StatMean Stat = "mean"
	// StatLegacy reports the maximum, except for the last bin of the input,
	// which reports Max/(Stop-Start).  Older pyramids were built this way.
	StatLegacy Stat = "legacy"
)

// Budget names the policy of the adaptive loop level search.
type Budget string

const (
	// AtLeastTarget returns the most downsampled level holding more than the
	// target number of loops.
	AtLeastTarget Budget = "at_least_target"
	// PreviousLevel returns the level examined just before the first one
	// holding more than the target number of loops.
	PreviousLevel Budget = "previous_level"
)

// Options configures a pyramid.  The zero value is not valid; start from
// DefaultCoverageOptions or DefaultLoopOptions.
type Options struct {
	// Factor is the downsampling ratio between successive levels.
	Factor int `yaml:"downsample_factor" validate:"min=2,max=1000"`
	// Depth is the number of decimated levels.
	Depth int `yaml:"depth" validate:"min=1,max=16"`
	// IndexDir is the directory holding the artifacts.  A relative
	// IndexDir is resolved against the directory of the input file.
	IndexDir string `yaml:"index_dir" validate:"required"`
	// Stat is the coverage bin statistic.
	Stat Stat `yaml:"stat" validate:"oneof=max mean legacy"`
	// Budget is the adaptive loop search policy.
	Budget Budget `yaml:"budget" validate:"oneof=at_least_target previous_level"`
	// ChromPrefix is prepended to query chromosome names that lack it.
	ChromPrefix string `yaml:"chrom_prefix"`
}

// DefaultCoverageOptions are the options of a bedGraph pyramid.
var DefaultCoverageOptions = Options{
	Factor:      10,
	Depth:       5,
	IndexDir:    DefaultIndexDir,
	Stat:        StatMax,
	Budget:      AtLeastTarget,
	ChromPrefix: "chr",
}

// DefaultLoopOptions are the options of a bedpe pyramid.
var DefaultLoopOptions = Options{
	Factor:      10,
	Depth:       7,
	IndexDir:    DefaultIndexDir,
	Stat:        StatMax,
	Budget:      AtLeastTarget,
	ChromPrefix: "chr",
}

var validate = validator.New()

// Validate checks the options, returning an errors.Invalid error that names
// every offending field.  The step of the coarsest level, Factor^Depth, must
// not exceed interval.PosMax.
func (o Options) Validate() error {
	err := validate.Struct(o)
	if err == nil {
		return o.validateSteps()
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.E(errors.Invalid, "pyramid.Options", err)
	}
	msgs := make([]string, len(verrs))
	for i, e := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed '%s' (value %v)", e.Field(), e.Tag(), e.Value())
	}
	return errors.E(errors.Invalid, "pyramid.Options", strings.Join(msgs, "; "))
}

func (o Options) validateSteps() error {
	step := int64(1)
	for i := 0; i < o.Depth; i++ {
		if step > interval.PosMax/int64(o.Factor) {
			return errors.E(errors.Invalid, "pyramid.Options",
				fmt.Sprintf("Factor^Depth (%d^%d) exceeds the largest position %d", o.Factor, o.Depth, int64(interval.PosMax)))
		}
		step *= int64(o.Factor)
	}
	return nil
}

// ParseOptions overlays a YAML document on base and validates the result.
// Keys absent from the document keep their value in base.
func ParseOptions(data []byte, base Options) (Options, error) {
	opts := base
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, errors.E(errors.Invalid, "pyramid.ParseOptions", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// LoadOptions reads a YAML config file; see ParseOptions.
func LoadOptions(ctx context.Context, path string, base Options) (Options, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return Options{}, errors.E("pyramid.LoadOptions", path, err)
	}
	defer in.Close(ctx) // nolint: errcheck
	data, err := ioutil.ReadAll(in.Reader(ctx))
	if err != nil {
		return Options{}, errors.E(errors.Unavailable, "pyramid.LoadOptions", path, err)
	}
	opts, err := ParseOptions(data, base)
	if err != nil {
		return Options{}, errors.E("pyramid.LoadOptions", path, err)
	}
	return opts, nil
}
