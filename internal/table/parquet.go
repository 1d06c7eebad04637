package table

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// columnOrderKey stores the original column order in the file footer; parquet
// groups list their fields by name.
const columnOrderKey = "medallion.columns"

const readBatchSize = 256

type columnKind int

const (
	kindString columnKind = iota
	kindInt64
)

// WriteParquetFile writes t to path as a snappy-compressed Parquet file,
// replacing any existing file.
func WriteParquetFile(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file %s: %w", path, err)
	}
	if err := WriteParquet(f, t); err != nil {
		f.Close()
		return fmt.Errorf("failed to write parquet file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close parquet file %s: %w", path, err)
	}
	return nil
}

// WriteParquet encodes t as Parquet with snappy compression. Columns whose
// non-missing values are all integers are stored as INT64, everything else
// as UTF-8 strings. Every column is optional so missing values survive.
func WriteParquet(w io.Writer, t *Table) error {
	if len(t.Columns) == 0 {
		return errors.New("cannot write a table without columns")
	}

	kinds := make(map[string]columnKind, len(t.Columns))
	group := make(parquet.Group, len(t.Columns))
	for _, c := range t.Columns {
		kinds[c] = inferKind(t, c)
		if kinds[c] == kindInt64 {
			group[c] = parquet.Optional(parquet.Int(64))
		} else {
			group[c] = parquet.Optional(parquet.String())
		}
	}
	schema := parquet.NewSchema("medallion", group)

	order, err := json.Marshal(t.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode column order: %w", err)
	}

	writer := parquet.NewWriter(w,
		schema,
		parquet.Compression(&parquet.Snappy),
		parquet.KeyValueMetadata(columnOrderKey, string(order)),
	)

	leaves := schema.Columns()
	rows := make([]parquet.Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := make(parquet.Row, len(leaves))
		for idx, path := range leaves {
			name := path[0]
			row[idx] = toValue(r[name], kinds[name]).Level(0, definitionLevel(r[name]), idx)
		}
		rows = append(rows, row)
	}

	if _, err := writer.WriteRows(rows); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to flush parquet writer: %w", err)
	}
	return nil
}

// ReadParquetFile decodes the Parquet file at path.
func ReadParquetFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	t, err := ReadParquet(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadParquetBytes decodes an in-memory Parquet object.
func ReadParquetBytes(data []byte) (*Table, error) {
	return ReadParquet(bytes.NewReader(data), int64(len(data)))
}

// ReadParquet decodes a flat Parquet file. Nested schemas are rejected.
func ReadParquet(r io.ReaderAt, size int64) (*Table, error) {
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet data: %w", err)
	}

	paths := f.Schema().Columns()
	names := make([]string, len(paths))
	for i, path := range paths {
		if len(path) != 1 {
			return nil, fmt.Errorf("nested parquet column %v is not supported", path)
		}
		names[i] = path[0]
	}

	t := New(columnOrder(f, names)...)

	buf := make([]parquet.Row, readBatchSize)
	for _, rg := range f.RowGroups() {
		if err := readRowGroup(rg, names, buf, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func readRowGroup(rg parquet.RowGroup, names []string, buf []parquet.Row, t *Table) error {
	rows := rg.Rows()
	defer rows.Close()

	for {
		n, err := rows.ReadRows(buf)
		for _, values := range buf[:n] {
			row := make(Row, len(names))
			for _, name := range names {
				row[name] = nil
			}
			for _, v := range values {
				row[names[v.Column()]] = fromValue(v)
			}
			t.Rows = append(t.Rows, row)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
}

// columnOrder restores the writer's column order when the footer carries it
// and it names exactly the schema's columns.
func columnOrder(f *parquet.File, names []string) []string {
	raw, ok := f.Lookup(columnOrderKey)
	if !ok {
		return names
	}
	var order []string
	if err := json.Unmarshal([]byte(raw), &order); err != nil || len(order) != len(names) {
		return names
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for _, n := range order {
		if !known[n] {
			return names
		}
		delete(known, n)
	}
	return order
}

func inferKind(t *Table, column string) columnKind {
	seen := false
	for _, r := range t.Rows {
		switch r[column].(type) {
		case nil:
		case int64, int32, int:
			seen = true
		default:
			return kindString
		}
	}
	if seen {
		return kindInt64
	}
	return kindString
}

func definitionLevel(v interface{}) int {
	if v == nil {
		return 0
	}
	return 1
}

func toValue(v interface{}, kind columnKind) parquet.Value {
	if v == nil {
		return parquet.NullValue()
	}
	if kind == kindInt64 {
		switch n := v.(type) {
		case int64:
			return parquet.Int64Value(n)
		case int32:
			return parquet.Int64Value(int64(n))
		case int:
			return parquet.Int64Value(int64(n))
		}
	}
	return parquet.ByteArrayValue([]byte(Text(v)))
}

func fromValue(v parquet.Value) interface{} {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	case parquet.Int64:
		return v.Int64()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Double:
		return v.Double()
	case parquet.Float:
		return float64(v.Float())
	default:
		return v.String()
	}
}
