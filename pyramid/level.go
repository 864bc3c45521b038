package pyramid

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/trackpyramid/store"
)

// Level identifies one artifact of a pyramid.  Decimated levels are numbered
// 0..Depth-1; Raw is the un-decimated data.
type Level int

// Raw is the level holding the input as is.
const Raw Level = -1

func (l Level) String() string {
	if l == Raw {
		return "raw"
	}
	return strconv.Itoa(int(l))
}

// ParseLevel parses "raw" or a level number.
func ParseLevel(s string) (Level, error) {
	if s == "raw" {
		return Raw, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.E(errors.Invalid, "pyramid.ParseLevel", fmt.Sprintf("bad level %q", s))
	}
	return Level(n), nil
}

// Step returns the downsampling step of level l, Factor^(l+1).  The Raw
// level has step 1.
func (o Options) Step(l Level) int64 {
	step := int64(1)
	for i := Level(0); i <= l; i++ {
		step *= int64(o.Factor)
	}
	return step
}

// Dir returns the index directory of the pyramid over path.
func (o Options) Dir(path string) string {
	if isAbs(o.IndexDir) {
		return o.IndexDir
	}
	return file.Join(file.Dir(path), o.IndexDir)
}

// isAbs reports whether p is an absolute local path or a URL.
func isAbs(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	scheme, _, err := file.ParsePath(p)
	return err == nil && scheme != ""
}

// LevelPath returns the path of the data artifact of level l of the pyramid
// over path.  The artifact's index lives at LevelPath + store.IndexSuffix.
func (o Options) LevelPath(path string, l Level) string {
	base := file.Base(path)
	if l == Raw {
		return file.Join(o.Dir(path), base+".bgz")
	}
	return file.Join(o.Dir(path), fmt.Sprintf("%s.dec_%d_%d.bgz", base, o.Factor, int(l)))
}

// Levels lists the decimated levels, coarsest-built first.
func (o Options) Levels() []Level {
	levels := make([]Level, o.Depth)
	for i := range levels {
		levels[i] = Level(i)
	}
	return levels
}

// Present reports whether every artifact of the pyramid over path exists.
func Present(ctx context.Context, s store.Store, path string, o Options) bool {
	if !s.Exists(ctx, o.LevelPath(path, Raw)) {
		return false
	}
	for _, l := range o.Levels() {
		if !s.Exists(ctx, o.LevelPath(path, l)) {
			return false
		}
	}
	return true
}

// CheckLevel returns a NotIndexed error unless level l of the pyramid over
// path exists.
func CheckLevel(ctx context.Context, s store.Store, path string, o Options, l Level) error {
	if l != Raw && (l < 0 || int(l) >= o.Depth) {
		return errors.E(errors.Invalid, "pyramid.CheckLevel", path, fmt.Sprintf("level %v out of range [0,%d)", l, o.Depth))
	}
	if p := o.LevelPath(path, l); !s.Exists(ctx, p) {
		return errors.E(errors.NotExist, "pyramid.CheckLevel", p, "not indexed")
	}
	return nil
}

// IsNotIndexed reports whether err was caused by querying a pyramid that has
// not been built.
func IsNotIndexed(err error) bool {
	return errors.Is(errors.NotExist, err)
}

// IsInvariantViolation reports whether err was caused by input violating a
// build-time invariant, or by a malformed row.
func IsInvariantViolation(err error) bool {
	return errors.Is(errors.Invalid, err)
}

// IsStoreError reports whether err came from the indexed store.
func IsStoreError(err error) bool {
	return store.IsStoreError(err)
}
