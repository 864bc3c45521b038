// Package bgzf includes a Writer for the .bgzf (block gzipped) file
// format.  A .bgzf file consists of one or more complete gzip blocks
// concatenated together.  Each of the gzip blocks must represent at
// most 64KB of uncompressed data, and the compressed size of the
// block must be at most 64KB.  A valid .bgzf file ends with the 28 byte
// .bgzf terminator shown below.
//
// Track pyramid levels are stored as .bgzf-compressed TSV.  The writer
// reports the virtual offset of the next byte to be written, which is what
// a coordinate index records for every row; see Chunk.
//
// Example use:
//
//	var bgzfFile bytes.Buffer
//	w, err := NewWriter(&bgzfFile, gzip.DefaultCompression)
//	begin := w.VOffset()
//	n, err := w.Write([]byte("chr1\t0\t10\t1.5\n"))
//	chunk := Chunk(begin, w.VOffset())
//	err = w.Close()
//
// For more information about the .bgzf file format, see the SAM/BAM
// spec here: https://samtools.github.io/hts-specs/SAMv1.pdf
package bgzf

import (
	"bytes"
	"fmt"
	"io"

	biogo "github.com/biogo/hts/bgzf"
	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultUncompressedBlockSize is the default bgzf
	// uncompressedBlockSize chosen by both sambamba and biogo.  See
	// the SAM/BAM specification for details.
	DefaultUncompressedBlockSize = 0x0ff00

	// MaxUncompressedBlockSize is the largest legal value for
	// uncompressedBlockSize.
	MaxUncompressedBlockSize = 0x10000

	// compressedBlockSize is the maximum size of the compressed data
	// for a Bgzf block.  See the SAM/BAM specification for details.
	compressedBlockSize = 0x10000
)

var (
	// bgzfExtra goes into the gzip's Extra subfield, with subfield
	// ids: 66, 67, and length 2.  See the SAM/BAM spec.
	bgzfExtra       = [...]byte{66, 67, 2, 0, 0, 0}
	bgzfExtraPrefix = [...]byte{66, 67, 2, 0}

	// terminator is the Bgzf EOF terminator.  It belongs at the end
	// of a valid Bgzf file.  See the SAM/BAM spec.
	terminator = []byte{
		0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00, 0x42, 0x43,
		0x02, 0x00, 0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

// gzipFactory creates the per-block gzip writers.  It keeps one
// gzip.Writer around and Reset()s it for every block instead of allocating a
// new one.
type gzipFactory struct {
	level int
	gz    *gzip.Writer
}

func (c *gzipFactory) create(w io.Writer) (io.WriteCloser, error) {
	if c.gz == nil {
		var err error
		if c.gz, err = gzip.NewWriterLevel(w, c.level); err != nil {
			return nil, err
		}
	} else {
		c.gz.Reset(w)
	}
	c.gz.Header.Extra = make([]byte, len(bgzfExtra))
	copy(c.gz.Header.Extra[:], bgzfExtra[:])
	c.gz.Header.OS = 0xff // Unknown OS value
	return c.gz, nil
}

// Writer compresses data into .bgzf format.  The .bgzf format
// consists of gzip blocks concatenated together.  Each gzip block has
// an uncompressed size of at most 64KB.  The .bgzf format adds an
// Extra header field to each of the gzip headers; the Extra field
// contains the size of the compressed block in bytes - 1.
type Writer struct {
	factory          *gzipFactory
	uncompressedSize int
	xfl              int
	w                io.Writer
	original         bytes.Buffer
	compressed       bytes.Buffer
	coffset          uint64 // starting file position of the current gzip block
}

// NewWriter returns a new .bgzf writer with the given compression
// level.  Returns nil, error if there is a problem.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	return NewWriterParams(w, level, DefaultUncompressedBlockSize, -1)
}

// NewWriterParams returns a new .bgzf writer with an explicit block size.
// uncompressedBlockSize is the largest number of bytes to put into each .bgzf
// block.  gzipXFL will be written to the XFL gzip header field for each of the
// gzip blocks in the output; if gzipXFL is -1 the compressor's value is kept.
func NewWriterParams(w io.Writer, level, uncompressedBlockSize, gzipXFL int) (*Writer, error) {
	if uncompressedBlockSize <= 0 || uncompressedBlockSize > MaxUncompressedBlockSize {
		return nil, fmt.Errorf("uncompressedBlockSize %d is out of range, max value is %d",
			uncompressedBlockSize, MaxUncompressedBlockSize)
	}
	if gzipXFL != -1 && (gzipXFL < 0 || gzipXFL > 255) {
		return nil, fmt.Errorf("gzipXFL must be -1 or in [0:255] not %d", gzipXFL)
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid gzip level %d", level)
	}
	return &Writer{
		factory:          &gzipFactory{level: level},
		uncompressedSize: uncompressedBlockSize,
		xfl:              gzipXFL,
		w:                w,
	}, nil
}

// Writes buf to the .bgzf payload.  Returns the number of bytes
// consumed from buf and any error encountered.
func (w *Writer) Write(buf []byte) (int, error) {
	for i := 0; i < len(buf); {
		// Write one block at a time to avoid creating an entire copy of the input
		// buf.
		end := len(buf)
		limit := i + w.uncompressedSize - w.original.Len()
		if limit < end {
			end = limit
		}
		n, _ := w.original.Write(buf[i:end])
		i += n
		if err := w.tryCompress(false); err != nil {
			return i, err
		}
	}
	return len(buf), nil
}

// Flush compresses any buffered bytes into a (possibly short) block, so that
// the next write starts a new block.
func (w *Writer) Flush() error {
	return w.tryCompress(true)
}

// CloseWithoutTerminator closes the current .bgzf block, but does not
// append the .bgzf terminator.  This output file is not a complete
// .bgzf file until the user calls Close().
func (w *Writer) CloseWithoutTerminator() error {
	return w.tryCompress(true)
}

// Close the current .bgzf block and also append the .bgzf terminator.
func (w *Writer) Close() error {
	if err := w.CloseWithoutTerminator(); err != nil {
		return err
	}
	_, err := w.w.Write(terminator)
	return err
}

// Removes a block from w.original, compresses the block, and
// writes the compressed block to w.w.
func (w *Writer) tryCompress(compressRemainder bool) error {
	for w.original.Len() >= w.uncompressedSize || (compressRemainder && w.original.Len() > 0) {
		gz, err := w.factory.create(&w.compressed)
		if err != nil {
			return err
		}
		if _, err := gz.Write(w.original.Next(w.uncompressedSize)); err != nil {
			return err
		}
		if err := gz.Close(); err != nil {
			return err
		}

		// Edit gzip header where necessary.
		b := w.compressed.Bytes()
		if w.xfl >= 0 {
			offset := 8 // This is the offset of the XFL field in the gzip header.
			b[offset] = byte(w.xfl)
		}

		// Replace bgzf BSIZE header with compressed length - 1.
		offset := 12 // This is the offset of the Extra field in the gzip header.
		bsize := w.compressed.Len() - 1
		if bsize >= compressedBlockSize {
			return fmt.Errorf("bgzf compressed block is too big: %d > %d", bsize,
				compressedBlockSize)
		}
		if w.compressed.Len() < (offset + len(bgzfExtra)) {
			return fmt.Errorf("compressed length is too short: %d < %d", w.compressed.Len(),
				offset+len(bgzfExtra))
		}
		if !bytes.Equal(b[offset:offset+len(bgzfExtraPrefix)], bgzfExtraPrefix[:]) {
			return fmt.Errorf("could not find bgzf extra prefix")
		}
		b[offset+4] = byte(bsize)
		b[offset+5] = byte(bsize >> 8)

		sz := w.compressed.Len()
		if _, err := w.compressed.WriteTo(w.w); err != nil {
			return err
		}
		w.coffset += uint64(sz)
	}
	return nil
}

// VOffset returns the virtual-offset of the next byte to be written.
func (w *Writer) VOffset() uint64 {
	return w.coffset<<16 | uint64(w.original.Len())
}

// ToOffset takes a uint64 voffset and returns a bgzf.Offset.
func ToOffset(voffset uint64) biogo.Offset {
	return biogo.Offset{File: int64(voffset >> 16), Block: uint16(voffset & 0xffff)}
}

// Chunk returns the chunk spanning the virtual offsets [begin, end), as
// recorded by VOffset before and after writing a record.
func Chunk(begin, end uint64) biogo.Chunk {
	return biogo.Chunk{Begin: ToOffset(begin), End: ToOffset(end)}
}
