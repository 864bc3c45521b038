package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	biogo "github.com/biogo/hts/bgzf"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/trackpyramid/encoding/bgzf"
	"github.com/klauspost/compress/gzip"
)

// DefaultIndexInterval is the default spacing, in compressed bytes of the
// data file, between two index entries of a chromosome.
const DefaultIndexInterval = 64 << 10

// The index file (.gti) maps genomic positions to virtual offsets in a
// BGZF data file.  It is a gzip stream holding:
//
//	the 16 byte magic "GTRI1" followed by 11 random bytes
//	uint32 length of the auxiliary block, then the block itself
//	one uint64 end voffset per chromosome, in file order
//	a sequence of entries, each {int32 RefID, int64 Pos,
//	int64 PrevMaxEnd, uint64 VOffset}, until EOF
//
// Numbers are little-endian.  The auxiliary block follows the tabix header
// layout:
//
//	int32 format, int32 name column, int32 begin column, int32 end column
//	(columns are 1-based), int32 meta char, int32 lines to skip,
//	int32 length of the names block, NUL-terminated chromosome names.
//
// Every chromosome has an entry for its first row; further entries are
// added at the first row written at least the index interval past the
// previous entry.  Pos is the begin of the entry's row, and PrevMaxEnd is
// the largest end of the rows before it on the same chromosome, so a read
// of [s, e) can start at the last entry whose PrevMaxEnd is <= s and stop
// at the first entry whose Pos is >= e.  The end voffset of a chromosome
// is the offset just past its last row.
var gtiMagic = []byte{
	'G', 'T', 'R', 'I', '1', 0x6d, 0x2a, 0xc4,
	0x19, 0x8e, 0x53, 0xb7, 0x02, 0xf6, 0x3d, 0x91,
}

const (
	auxHeaderSize = 28
	// formatGeneric | formatUCSC: generic TSV with 0-based half-open spans.
	auxFormat = 0x10000
	metaChar  = '#'
)

// indexEntry is one entry of the .gti index.
type indexEntry struct {
	RefID      int32
	Pos        int64
	PrevMaxEnd int64
	VOffset    uint64
}

// trackIndex is a loaded .gti index.
type trackIndex struct {
	layout  Layout
	names   []string
	ids     map[string]int
	ends    []uint64
	entries []indexEntry
}

func (t *trackIndex) refID(chrom string) (int, bool) {
	id, ok := t.ids[chrom]
	return id, ok
}

// chunk returns the span of the data file holding every row of chromosome
// rid that may overlap [start, end).  It returns false if no row can.
func (t *trackIndex) chunk(rid int, start, end int64) (biogo.Chunk, bool) {
	lo := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].RefID >= int32(rid) })
	hi := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].RefID > int32(rid) })
	ref := t.entries[lo:hi]
	if len(ref) == 0 {
		return biogo.Chunk{}, false
	}
	// ref[0].PrevMaxEnd is zero, so first >= 0.
	first := sort.Search(len(ref), func(i int) bool { return ref[i].PrevMaxEnd > start }) - 1
	last := sort.Search(len(ref), func(i int) bool { return ref[i].Pos >= end })
	if first < 0 || last <= first {
		return biogo.Chunk{}, false
	}
	c := biogo.Chunk{Begin: bgzf.ToOffset(ref[first].VOffset), End: bgzf.ToOffset(t.ends[rid])}
	if last < len(ref) {
		c.End = bgzf.ToOffset(ref[last].VOffset)
	}
	return c, true
}

// indexBuilder collects the entries of a .gti index while the data file is
// written.
type indexBuilder struct {
	interval int64
	entries  []indexEntry
	ends     []uint64
	maxEnd   int64
	lastFile int64
}

func newIndexBuilder(interval int64) *indexBuilder {
	if interval <= 0 {
		interval = DefaultIndexInterval
	}
	return &indexBuilder{interval: interval}
}

// add records the row [begin, end) of chromosome rid, about to be written
// at voffset.  Chromosomes are numbered 0, 1, ... in file order.
func (b *indexBuilder) add(rid int, begin, end int64, voffset uint64) {
	fileOff := int64(voffset >> 16)
	switch {
	case rid >= len(b.ends):
		b.ends = append(b.ends, voffset)
		b.maxEnd = 0
		b.entries = append(b.entries, indexEntry{RefID: int32(rid), Pos: begin, VOffset: voffset})
		b.lastFile = fileOff
	case fileOff-b.lastFile >= b.interval:
		b.entries = append(b.entries, indexEntry{RefID: int32(rid), Pos: begin, PrevMaxEnd: b.maxEnd, VOffset: voffset})
		b.lastFile = fileOff
	}
	if end <= begin {
		end = begin + 1
	}
	if end > b.maxEnd {
		b.maxEnd = end
	}
}

// done records the voffset just past the last row added for rid.
func (b *indexBuilder) done(rid int, voffset uint64) {
	b.ends[rid] = voffset
}

func encodeAux(layout Layout, names []string) []byte {
	var block bytes.Buffer
	for _, name := range names {
		block.WriteString(name)
		block.WriteByte(0)
	}
	aux := make([]byte, auxHeaderSize, auxHeaderSize+block.Len())
	le := binary.LittleEndian
	le.PutUint32(aux[0:4], auxFormat)
	le.PutUint32(aux[4:8], uint32(layout.NameColumn+1))
	le.PutUint32(aux[8:12], uint32(layout.BeginColumn+1))
	le.PutUint32(aux[12:16], uint32(layout.EndColumn+1))
	le.PutUint32(aux[16:20], metaChar)
	le.PutUint32(aux[20:24], 0)
	le.PutUint32(aux[24:28], uint32(block.Len()))
	return append(aux, block.Bytes()...)
}

func decodeAux(aux []byte) (layout Layout, names []string, err error) {
	if len(aux) < auxHeaderSize {
		err = fmt.Errorf("index auxiliary data too short: %d bytes", len(aux))
		return
	}
	le := binary.LittleEndian
	layout.NameColumn = int(le.Uint32(aux[4:8])) - 1
	layout.BeginColumn = int(le.Uint32(aux[8:12])) - 1
	layout.EndColumn = int(le.Uint32(aux[12:16])) - 1
	n := int(le.Uint32(aux[24:28]))
	if auxHeaderSize+n > len(aux) {
		err = fmt.Errorf("index names block overruns auxiliary data: %d > %d", auxHeaderSize+n, len(aux))
		return
	}
	if n == 0 {
		return
	}
	// The block ends in a trailing NUL, so we take all but the last byte.
	for _, name := range bytes.Split(aux[auxHeaderSize:auxHeaderSize+n-1], []byte{0}) {
		names = append(names, string(name))
	}
	return
}

// encodeIndex writes a .gti index to w.
func encodeIndex(w io.Writer, b *indexBuilder, layout Layout, names []string) error {
	if len(b.ends) != len(names) {
		return fmt.Errorf("index has %d chromosomes, expected %d", len(b.ends), len(names))
	}
	gz := gzip.NewWriter(w)
	aux := encodeAux(layout, names)
	if _, err := gz.Write(gtiMagic); err != nil {
		return err
	}
	if err := binary.Write(gz, binary.LittleEndian, uint32(len(aux))); err != nil {
		return err
	}
	if _, err := gz.Write(aux); err != nil {
		return err
	}
	if err := binary.Write(gz, binary.LittleEndian, b.ends); err != nil {
		return err
	}
	for i := range b.entries {
		if err := binary.Write(gz, binary.LittleEndian, &b.entries[i]); err != nil {
			return err
		}
	}
	return gz.Close()
}

// decodeIndex parses a .gti index, checking that its entries are ordered.
func decodeIndex(r io.Reader) (idx *trackIndex, err error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := gz.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	magic := make([]byte, len(gtiMagic))
	if _, err = io.ReadFull(gz, magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, gtiMagic) {
		return nil, fmt.Errorf("unexpected index magic: %v should be %v", magic, gtiMagic)
	}
	var auxLen uint32
	if err = binary.Read(gz, binary.LittleEndian, &auxLen); err != nil {
		return nil, err
	}
	aux := make([]byte, auxLen)
	if _, err = io.ReadFull(gz, aux); err != nil {
		return nil, err
	}
	idx = &trackIndex{}
	if idx.layout, idx.names, err = decodeAux(aux); err != nil {
		return nil, err
	}
	idx.ends = make([]uint64, len(idx.names))
	if err = binary.Read(gz, binary.LittleEndian, idx.ends); err != nil {
		return nil, err
	}
	idx.ids = make(map[string]int, len(idx.names))
	for i, name := range idx.names {
		idx.ids[name] = i
	}
	for {
		var e indexEntry
		if err = binary.Read(gz, binary.LittleEndian, &e); err == io.EOF {
			err = nil
			break
		} else if err != nil {
			return nil, err
		}
		if e.RefID < 0 || int(e.RefID) >= len(idx.names) {
			return nil, fmt.Errorf("index entry %v: no such chromosome", e)
		}
		if n := len(idx.entries); n > 0 {
			prev := idx.entries[n-1]
			if e.VOffset <= prev.VOffset || e.RefID < prev.RefID ||
				(e.RefID == prev.RefID && (e.Pos < prev.Pos || e.PrevMaxEnd < prev.PrevMaxEnd)) {
				return nil, fmt.Errorf("index entries out of order: %v must follow %v", e, prev)
			}
		}
		idx.entries = append(idx.entries, e)
	}
	return idx, nil
}

// writeIndex stores the index built for a data file at path.
func writeIndex(ctx context.Context, path string, b *indexBuilder, layout Layout, names []string) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return storeError("store.writeIndex", path, err)
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = storeError("store.writeIndex", path, e)
		}
	}()
	if err = encodeIndex(out.Writer(ctx), b, layout, names); err != nil {
		return storeError("store.writeIndex", path, err)
	}
	return nil
}

// readIndex loads an index written by writeIndex.
func readIndex(ctx context.Context, path string) (*trackIndex, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, storeError("store.readIndex", path, err)
	}
	defer in.Close(ctx) // nolint: errcheck
	idx, err := decodeIndex(in.Reader(ctx))
	if err != nil {
		return nil, storeError("store.readIndex", path, err)
	}
	return idx, nil
}

func errorsWithPath(err error, path string) error {
	return errors.E(errors.Invalid, "store.Write", path, err)
}
