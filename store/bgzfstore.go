package store

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	biogo "github.com/biogo/hts/bgzf"
	"github.com/biogo/hts/bgzf/index"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/trackpyramid/encoding/bgzf"
	"github.com/grailbio/trackpyramid/interval"
	"github.com/klauspost/compress/gzip"
)

// IndexSuffix is appended to an artifact's data path to name its index.
const IndexSuffix = ".gti"

// maxLineSize bounds the length of a stored row.
const maxLineSize = 1 << 20

// BGZFStore stores each artifact as a BGZF-compressed TSV file at path and
// a coordinate index at path + IndexSuffix.  An artifact exists iff its index
// exists; the index is written only after the data file is complete.
//
// Loaded indexes are cached, since artifacts are immutable once written.
type BGZFStore struct {
	// Level is the gzip compression level of data blocks.
	Level int
	// BlockSize is the uncompressed size of data blocks.  Zero means
	// bgzf.DefaultUncompressedBlockSize.
	BlockSize int
	// IndexInterval is the spacing of index entries in compressed bytes.
	// Zero means DefaultIndexInterval.
	IndexInterval int64

	mu      sync.Mutex
	indexes map[string]*trackIndex
}

// NewBGZFStore returns a store using the default compression level.
func NewBGZFStore() *BGZFStore {
	return &BGZFStore{Level: gzip.DefaultCompression}
}

// Exists implements Store.
func (s *BGZFStore) Exists(ctx context.Context, path string) bool {
	_, err := file.Stat(ctx, path+IndexSuffix)
	return err == nil
}

// Write implements Store.
func (s *BGZFStore) Write(ctx context.Context, path string, layout Layout, rows RowIterator) error {
	if s.Exists(ctx, path) {
		log.Debug.Printf("store: %s already exists, skipping write", path)
		return nil
	}
	if err := layout.validate(); err != nil {
		return err
	}
	if err := mkdirAll(path); err != nil {
		return storeError("store.Write", path, err)
	}
	idx, names, n, err := s.writeData(ctx, path, layout, rows)
	if err != nil {
		return err
	}
	if err := writeIndex(ctx, path+IndexSuffix, idx, layout, names); err != nil {
		return err
	}
	log.Debug.Printf("store: wrote %d rows on %d chromosomes to %s", n, len(names), path)
	return nil
}

// writeData writes the BGZF data file and returns the index built along the
// way.  The file is closed before returning.
func (s *BGZFStore) writeData(ctx context.Context, path string, layout Layout, rows RowIterator) (idx *indexBuilder, names []string, n int, err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, nil, 0, storeError("store.Write", path, err)
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = storeError("store.Write", path, e)
		}
	}()
	blockSize := s.BlockSize
	if blockSize == 0 {
		blockSize = bgzf.DefaultUncompressedBlockSize
	}
	bw, err := bgzf.NewWriterParams(out.Writer(ctx), s.Level, blockSize, -1)
	if err != nil {
		return nil, nil, 0, storeError("store.Write", path, err)
	}
	idx = newIndexBuilder(s.IndexInterval)

	var (
		line    bytes.Buffer
		tw      = tsv.NewWriter(&line)
		checker = newSortChecker()
	)
	for rows.Scan() {
		fields := rows.Fields()
		chrom, begin, end, e := layout.Span(fields)
		if e != nil {
			return nil, nil, n, errorsWithPath(e, path)
		}
		rid, e := checker.check(path, chrom, begin)
		if e != nil {
			return nil, nil, n, e
		}
		for _, f := range fields {
			tw.WriteString(f)
		}
		if e := tw.EndLine(); e != nil {
			return nil, nil, n, storeError("store.Write", path, e)
		}
		if e := tw.Flush(); e != nil {
			return nil, nil, n, storeError("store.Write", path, e)
		}
		idx.add(rid, begin, end, bw.VOffset())
		if _, e := bw.Write(line.Bytes()); e != nil {
			return nil, nil, n, storeError("store.Write", path, e)
		}
		line.Reset()
		idx.done(rid, bw.VOffset())
		n++
	}
	if e := rows.Err(); e != nil {
		return nil, nil, n, e
	}
	if e := bw.Close(); e != nil {
		return nil, nil, n, storeError("store.Write", path, e)
	}
	return idx, checker.names, n, nil
}

// Read implements Store.
func (s *BGZFStore) Read(ctx context.Context, path string, r interval.GenomeRange) (Scanner, error) {
	idx, err := s.index(ctx, path)
	if err != nil {
		return nil, err
	}
	rid, ok := idx.refID(r.Chrom)
	if !ok {
		return NewErrorScanner(nil), nil
	}
	limit := r.End
	if limit <= r.Start {
		limit = r.Start + 1
	}
	chunk, ok := idx.chunk(rid, r.Start, limit)
	if !ok {
		return NewErrorScanner(nil), nil
	}

	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, storeError("store.Read", path, err)
	}
	br, err := biogo.NewReader(in.Reader(ctx), 1)
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, storeError("store.Read", path, err)
	}
	cr, err := index.NewChunkReader(br, []biogo.Chunk{chunk})
	if err != nil {
		br.Close()    // nolint: errcheck
		in.Close(ctx) // nolint: errcheck
		return nil, storeError("store.Read", path, err)
	}
	sc := bufio.NewScanner(cr)
	sc.Buffer(make([]byte, 64<<10), maxLineSize)
	return &chunkScanner{
		ctx:    ctx,
		path:   path,
		r:      r,
		layout: idx.layout,
		in:     in,
		br:     br,
		cr:     cr,
		sc:     sc,
	}, nil
}

// index returns the cached index for path, loading it on first use.
func (s *BGZFStore) index(ctx context.Context, path string) (*trackIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[path]; ok {
		return idx, nil
	}
	idx, err := readIndex(ctx, path+IndexSuffix)
	if err != nil {
		return nil, err
	}
	if s.indexes == nil {
		s.indexes = map[string]*trackIndex{}
	}
	s.indexes[path] = idx
	return idx, nil
}

// chunkScanner reads the lines in a BGZF chunk, keeping the ones
// overlapping the query range.  Rows within a chromosome are sorted by
// begin, so the scan stops at the first row starting past the range.
type chunkScanner struct {
	ctx    context.Context
	path   string
	r      interval.GenomeRange
	layout Layout
	in     file.File
	br     *biogo.Reader
	cr     *index.ChunkReader
	sc     *bufio.Scanner
	fields []string
	done   bool
	err    error
}

func (c *chunkScanner) Scan() bool {
	if c.done || c.err != nil {
		return false
	}
	for c.sc.Scan() {
		line := c.sc.Text()
		if line == "" {
			continue
		}
		c.fields = strings.Split(line, "\t")
		chrom, begin, end, err := c.layout.Span(c.fields)
		if err != nil {
			c.err = storeError("store.Read", c.path, err)
			return false
		}
		if chrom != c.r.Chrom {
			continue
		}
		if c.r.Overlaps(chrom, begin, end) {
			return true
		}
		limit := c.r.End
		if limit <= c.r.Start {
			limit = c.r.Start + 1
		}
		if begin >= limit {
			c.done = true
			return false
		}
	}
	if err := c.sc.Err(); err != nil {
		c.err = storeError("store.Read", c.path, err)
	}
	c.done = true
	return false
}

func (c *chunkScanner) Fields() []string { return c.fields }

func (c *chunkScanner) Err() error { return c.err }

func (c *chunkScanner) Close() error {
	if err := c.cr.Close(); err != nil && c.err == nil {
		c.err = storeError("store.Read", c.path, err)
	}
	if err := c.br.Close(); err != nil && c.err == nil {
		c.err = storeError("store.Read", c.path, err)
	}
	if err := c.in.Close(c.ctx); err != nil && c.err == nil {
		c.err = storeError("store.Read", c.path, err)
	}
	return c.err
}

// mkdirAll creates the parent directory of a local path.  Paths with a
// scheme (s3://...) have no directories to create.
func mkdirAll(path string) error {
	if scheme, _, err := file.ParsePath(path); err != nil || scheme != "" {
		return err
	}
	return os.MkdirAll(filepath.Dir(path), 0775)
}
