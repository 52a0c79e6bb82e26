package dataset

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `group, x, y
1, 0.5, 2.0
2, NA, 3.5
3, 1.5, .
`

func TestReadCSV(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"group", "x", "y"}, tbl.Names)
	assert.Equal(t, 3, tbl.NumRows())

	x, err := tbl.Column("x")
	require.NoError(t, err)
	assert.Equal(t, 0.5, x[0])
	assert.True(t, math.IsNaN(x[1]))

	y, err := tbl.Column("y")
	require.NoError(t, err)
	assert.True(t, IsMissing(y[2]))
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no rows", "a,b\n"},
		{"ragged", "a,b\n1,2\n3\n"},
		{"bad float", "a\nfoo\n"},
		{"duplicate header", "a,a\n1,2\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tc.in))
			assert.Error(t, err)
		})
	}
}

func TestColumnUnknown(t *testing.T) {
	tbl, err := NewTable([]string{"a"}, [][]float64{{1, 2}})
	require.NoError(t, err)

	_, err = tbl.Column("b")
	assert.True(t, errors.Is(err, ErrUnknownVariable))
	assert.False(t, tbl.Has("b"))
	assert.True(t, tbl.Has("a"))
}

func TestNewTableLengthMismatch(t *testing.T) {
	_, err := NewTable([]string{"a", "b"}, [][]float64{{1, 2}, {1}})
	assert.Error(t, err)
}

func TestLoadCSVCompressed(t *testing.T) {
	dir := t.TempDir()

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err := gw.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var zstBuf bytes.Buffer
	zw, err := zstd.NewWriter(&zstBuf)
	require.NoError(t, err)
	_, err = zw.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var lz4Buf bytes.Buffer
	lw := lz4.NewWriter(&lz4Buf)
	_, err = lw.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	files := map[string][]byte{
		"plain.csv":    []byte(sampleCSV),
		"data.csv.gz":  gzBuf.Bytes(),
		"data.csv.zst": zstBuf.Bytes(),
		"data.csv.lz4": lz4Buf.Bytes(),
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, content, 0o644))

		tbl, err := LoadCSV(path)
		require.NoError(t, err, name)
		assert.Equal(t, 3, tbl.NumRows(), name)
	}
}
