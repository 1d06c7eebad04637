package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrMalformedInput is returned when a delimited file cannot be parsed.
var ErrMalformedInput = errors.New("malformed delimited input")

// naTokens are the cell values read as missing, matching the defaults of the
// dataframe readers the downstream consumers were built against.
var naTokens = map[string]bool{
	"":         true,
	"#N/A":     true,
	"#N/A N/A": true,
	"#NA":      true,
	"-1.#IND":  true,
	"-1.#QNAN": true,
	"-NaN":     true,
	"-nan":     true,
	"1.#IND":   true,
	"1.#QNAN":  true,
	"<NA>":     true,
	"N/A":      true,
	"NA":       true,
	"NULL":     true,
	"NaN":      true,
	"None":     true,
	"n/a":      true,
	"nan":      true,
	"null":     true,
}

// IsMissing reports whether a raw cell is one of the recognised missing tokens.
func IsMissing(cell string) bool {
	return naTokens[cell]
}

// CSVOptions controls ReadCSV.
type CSVOptions struct {
	Comma rune
}

// ReadCSVFile parses path with a header row. See ReadCSV.
func ReadCSVFile(path string, opts CSVOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadCSV parses delimited text with a header row into a Table. Missing tokens
// become nil, short rows are padded with nil and rows wider than the header
// are rejected. A stream without a header or without data rows yields
// ErrEmptyInput.
func ReadCSV(r io.Reader, opts CSVOptions) (*Table, error) {
	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("no columns to parse: %w", ErrEmptyInput)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w: %w", ErrMalformedInput, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := New(dedupeHeader(header)...)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w: %w", ErrMalformedInput, err)
		}
		if len(record) > len(t.Columns) {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("expected %d fields in line %d, saw %d: %w",
				len(t.Columns), line, len(record), ErrMalformedInput)
		}

		row := make(Row, len(t.Columns))
		for i, col := range t.Columns {
			if i >= len(record) || IsMissing(record[i]) {
				row[col] = nil
				continue
			}
			row[col] = record[i]
		}
		t.Rows = append(t.Rows, row)
	}

	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("header without data rows: %w", ErrEmptyInput)
	}
	return t, nil
}

// dedupeHeader names empty headers "Unnamed: <i>" and suffixes repeats with
// ".1", ".2", ... so every column name is unique. Surrounding whitespace is
// part of the name.
func dedupeHeader(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	counts := make(map[string]int, len(header))
	for i, h := range header {
		name := h
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		base := name
		for used[name] {
			counts[base]++
			name = base + "." + strconv.Itoa(counts[base])
		}
		used[name] = true
		out[i] = name
	}
	return out
}
