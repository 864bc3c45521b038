package bgzf

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"math/rand"
	"os"
	"testing"

	biogo "github.com/biogo/hts/bgzf"
	"github.com/grailbio/base/grail"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	for _, length := range []int{0, 1, 100, 65279, 65280, 65281, 500000} {
		t.Logf("length: %d", length)
		for _, useParams := range []bool{false, true} {
			input := make([]byte, length)
			n, err := rand.Read(input)
			require.Nil(t, err)
			assert.Equal(t, length, n)

			var buf bytes.Buffer
			var w *Writer
			if useParams {
				w, err = NewWriterParams(&buf, 1, 0x0ff05, 3)
			} else {
				w, err = NewWriter(&buf, 1)
			}
			require.Nil(t, err)
			n, err = w.Write(input)
			assert.Nil(t, err)
			assert.Equal(t, length, n)
			assert.Nil(t, w.Close())

			if useParams && length > 0 {
				// The XFL field is set in all gzip headers, except
				// for the bgzf footer.
				assert.Equal(t, byte(3), buf.Bytes()[8], "length %d", buf.Len())
			}
			r, err := gzip.NewReader(&buf)
			require.Nil(t, err)
			actual, err := ioutil.ReadAll(r)
			require.Nil(t, err)
			assert.Equal(t, length, len(actual))
			assert.Equal(t, 0, bytes.Compare(input, actual))
		}
	}
}

func TestWriterParamsValidation(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewWriterParams(&buf, 1, MaxUncompressedBlockSize+1, -1)
	assert.Error(t, err)
	_, err = NewWriterParams(&buf, 1, 0, -1)
	assert.Error(t, err)
	_, err = NewWriterParams(&buf, 1, 1024, 256)
	assert.Error(t, err)
	_, err = NewWriterParams(&buf, 42, 1024, -1)
	assert.Error(t, err)
}

func TestVOffset(t *testing.T) {
	// Set bgzf block size to 5.
	var buf bytes.Buffer
	w, err := NewWriterParams(&buf, 1, 5, 0)
	require.Nil(t, err)

	// Write 4 bytes, should not cause block completion, so voffset should be (0, 4)
	_, err = w.Write([]byte("ABCD"))
	require.Nil(t, err)
	assert.Equal(t, uint64(4), w.VOffset())

	// Write 1 byte, should cause block completion, so voffset should be (non-zero, 0)
	_, err = w.Write([]byte("E"))
	require.Nil(t, err)
	voffset1 := w.VOffset()
	assert.Equal(t, uint64(0), voffset1&uint64(0xffff))
	assert.NotEqual(t, uint64(0), voffset1>>16)

	// Write 1 byte, should not cause block completion.  Coffset
	// should be the same, and uoffset should be 1.
	_, err = w.Write([]byte("F"))
	require.Nil(t, err)
	voffset2 := w.VOffset()
	assert.Equal(t, uint64(1), voffset2&uint64(0xffff))
	assert.Equal(t, voffset1>>16, voffset2>>16)

	// Flush closes the short block.
	require.Nil(t, w.Flush())
	assert.Equal(t, uint64(0), w.VOffset()&uint64(0xffff))
	assert.True(t, w.VOffset()>>16 > voffset2>>16)
}

func TestChunkSeek(t *testing.T) {
	// Small blocks so that lines straddle block boundaries.
	var buf bytes.Buffer
	w, err := NewWriterParams(&buf, gzip.DefaultCompression, 64, -1)
	require.Nil(t, err)

	var begins []uint64
	var lines []string
	for i := 0; i < 100; i++ {
		line := fmt.Sprintf("chr1\t%d\t%d\t%d.5\n", i*10, i*10+10, i)
		begins = append(begins, w.VOffset())
		lines = append(lines, line)
		_, err := w.Write([]byte(line))
		require.Nil(t, err)
	}
	end := w.VOffset()
	require.Nil(t, w.Close())

	r, err := biogo.NewReader(bytes.NewReader(buf.Bytes()), 1)
	require.Nil(t, err)
	for _, i := range []int{0, 17, 63, 99} {
		require.Nil(t, r.Seek(ToOffset(begins[i])))
		got := make([]byte, len(lines[i]))
		_, err := io.ReadFull(r, got)
		require.Nil(t, err)
		assert.Equal(t, lines[i], string(got))
	}

	c := Chunk(begins[3], end)
	assert.Equal(t, ToOffset(begins[3]), c.Begin)
	assert.Equal(t, ToOffset(end), c.End)
}

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	defer shutdown()
	os.Exit(m.Run())
}
