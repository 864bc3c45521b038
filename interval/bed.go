package interval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// BEDOpts configures ReadBED.
type BEDOpts struct {
	// OneBasedInput means the start coordinates of the file are 1-based.
	OneBasedInput bool
}

// getTokens splits line on tabs and spaces into the first len(tokens) fields,
// returning the number of fields found.  Lines starting with "track",
// "browser" or '#' have no fields.
func getTokens(tokens [][]byte, line []byte) int {
	if len(line) == 0 || line[0] == '#' || bytes.HasPrefix(line, []byte("track")) || bytes.HasPrefix(line, []byte("browser")) {
		return 0
	}
	n := 0
	for _, f := range bytes.Fields(line) {
		if n == len(tokens) {
			break
		}
		tokens[n] = f
		n++
	}
	return n
}

// ReadBED reads the intervals of a BED file sorted by chromosome block and
// start, merging touching or overlapping intervals and dropping empty ones.
// The result is sorted the same way and pairwise disjoint.
func ReadBED(r io.Reader, opts BEDOpts) ([]GenomeRange, error) {
	var (
		startSubtract int64
		tokens        [3][]byte
		lineIdx       int
		totBases      int64
		cur           GenomeRange
		out           []GenomeRange
		seen          = map[string]bool{}
	)
	if opts.OneBasedInput {
		startSubtract = 1
	}
	flush := func() {
		if cur.Chrom != "" && cur.End > cur.Start {
			out = append(out, cur)
			totBases += cur.End - cur.Start
		}
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineIdx++
		nToken := getTokens(tokens[:], scanner.Bytes())
		if nToken == 0 {
			continue
		}
		if nToken != 3 {
			return nil, fmt.Errorf("interval.ReadBED: line %d has fewer tokens than expected", lineIdx)
		}
		start, err := strconv.ParseInt(gunsafe.BytesToString(tokens[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("interval.ReadBED: line %d: %v", lineIdx, err)
		}
		start -= startSubtract
		end, err := strconv.ParseInt(gunsafe.BytesToString(tokens[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("interval.ReadBED: line %d: %v", lineIdx, err)
		}
		if start < 0 || end < start || end >= PosMax {
			return nil, fmt.Errorf("interval.ReadBED: invalid coordinate pair on line %d", lineIdx)
		}
		if cur.Chrom != gunsafe.BytesToString(tokens[0]) {
			flush()
			// The chromosome name must outlive the scanner's buffer.
			chrom := string(tokens[0])
			if seen[chrom] {
				return nil, fmt.Errorf("interval.ReadBED: unsorted input (split chromosome %v)", chrom)
			}
			seen[chrom] = true
			cur = GenomeRange{Chrom: chrom, Start: start, End: end}
			continue
		}
		if start < cur.Start {
			return nil, fmt.Errorf("interval.ReadBED: unsorted input on line %d", lineIdx)
		}
		if end == start {
			continue
		}
		if cur.End == cur.Start || start > cur.End {
			flush()
			cur.Start, cur.End = start, end
			continue
		}
		if end > cur.End {
			cur.End = end
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	log.Debug.Printf("BED loaded, %d interval(s), %d base(s) covered", len(out), totBases)
	return out, nil
}

// LoadBED is ReadBED on a path; gzip-compressed files are decompressed.
func LoadBED(ctx context.Context, path string, opts BEDOpts) (ranges []GenomeRange, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	r := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	return ReadBED(r, opts)
}
