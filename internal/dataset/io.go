package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// missingTokens are cell values read as a missing case value.
var missingTokens = map[string]bool{
	"":    true,
	".":   true,
	"NA":  true,
	"na":  true,
	"NaN": true,
	"nan": true,
}

// LoadCSV loads a CSV file with a header row into a Table.
// Files ending in .gz, .zst or .lz4 are decompressed on the fly.
func LoadCSV(path string) (*Table, error) {
	// 1. Open file
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	// 2. Wrap in a decompressor if needed
	var r io.Reader = f
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	case ".lz4":
		r = lz4.NewReader(f)
	}

	t, err := ReadCSV(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadCSV reads CSV data with a header row into a Table.
func ReadCSV(in io.Reader) (*Table, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true

	// 1. Read header row
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("empty header")
	}
	K := len(header)
	for j := range header {
		header[j] = strings.TrimSpace(header[j])
	}

	columns := make([][]float64, K)
	row := 0

	// 2. Read each data row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+2, err) // +2 for header + 1-based
		}

		// Skip completely empty lines
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		if len(record) != K {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", row+2, K, len(record))
		}

		for j, s := range record {
			s = strings.TrimSpace(s)
			if missingTokens[s] {
				columns[j] = append(columns[j], math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("parse float at row %d col %d (%q): %w", row+2, j+1, s, err)
			}
			columns[j] = append(columns[j], v)
		}
		row++
	}

	if row == 0 {
		return nil, fmt.Errorf("no data rows")
	}

	return NewTable(header, columns)
}
