package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
)

// RawData holds an opaque byte payload.
type RawData struct {
	handle
	content []byte
}

// NewRaw creates a RawData bound to repo (which may be nil).
func NewRaw(content []byte, repo Repository) *RawData {
	d := &RawData{content: content}
	d.repo = repo
	return d
}

// NewRawFromBytes is the Constructor for RawData.
func NewRawFromBytes(repo Repository, raw []byte) (Data, error) {
	return NewRaw(raw, repo), nil
}

func (d *RawData) Content() any       { return d.content }
func (d *RawData) Bytes() []byte      { return d.content }
func (d *RawData) DataType() DataType { return TypeRaw }

func (d *RawData) Save(ctx context.Context) error { return d.save(ctx, d) }

func (d *RawData) String() string {
	head := d.content
	if len(head) > 16 {
		head = head[:16]
	}
	return fmt.Sprintf("RawData: %dbytes, %q...", len(d.content), head)
}

// JSONData holds a decoded JSON value.
type JSONData struct {
	handle
	content any
}

// NewJSON creates a JSONData bound to repo (which may be nil).
func NewJSON(content any, repo Repository) *JSONData {
	d := &JSONData{content: content}
	d.repo = repo
	return d
}

// NewJSONFromBytes is the Constructor for JSONData.
func NewJSONFromBytes(repo Repository, raw []byte) (Data, error) {
	var content any
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	return NewJSON(content, repo), nil
}

func (d *JSONData) Content() any       { return d.content }
func (d *JSONData) DataType() DataType { return TypeJSON }

func (d *JSONData) Save(ctx context.Context) error { return d.save(ctx, d) }

// Encode renders the content as UTF-8 JSON without HTML escaping.
func (d *JSONData) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d.content); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (d *JSONData) String() string { return fmt.Sprintf("JSONData:%v", d.content) }

// Table is a rectangular set of string cells with a header row.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Column returns the cells of the named column.
func (t Table) Column(name string) ([]string, bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}

	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, true
}

// TableData holds tabular content, stored as CSV on disk.
type TableData struct {
	handle
	content Table
}

// NewTable creates a TableData bound to repo (which may be nil).
func NewTable(content Table, repo Repository) *TableData {
	d := &TableData{content: content}
	d.repo = repo
	return d
}

// NewTableFromCSV is the Constructor for TableData; the first record is the header.
func NewTableFromCSV(repo Repository, raw []byte) (Data, error) {
	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decoding csv: %w", err)
	}

	var t Table
	if len(records) > 0 {
		t.Columns = records[0]
		t.Rows = records[1:]
	}
	return NewTable(t, repo), nil
}

func (d *TableData) Content() any       { return d.content }
func (d *TableData) Table() Table       { return d.content }
func (d *TableData) DataType() DataType { return TypeTable }

func (d *TableData) Save(ctx context.Context) error { return d.save(ctx, d) }

// EncodeCSV renders the table with its header row.
func (d *TableData) EncodeCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(d.content.Columns); err != nil {
		return nil, err
	}
	if err := w.WriteAll(d.content.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *TableData) String() string {
	return fmt.Sprintf("TableData: %d columns, %d rows", len(d.content.Columns), len(d.content.Rows))
}

// Record is one row destined for a SQL table, keyed by column.
type Record map[string]any

// SQLModelData holds records that a SQL repository inserts into Table.
type SQLModelData struct {
	handle
	table   string
	records []Record
}

// NewSQLModel creates a SQLModelData bound to repo (which may be nil).
func NewSQLModel(table string, records []Record, repo Repository) *SQLModelData {
	d := &SQLModelData{table: table, records: records}
	d.repo = repo
	return d
}

func (d *SQLModelData) Content() any       { return d.records }
func (d *SQLModelData) Records() []Record  { return d.records }
func (d *SQLModelData) TableName() string  { return d.table }
func (d *SQLModelData) DataType() DataType { return TypeSQLModel }

func (d *SQLModelData) Save(ctx context.Context) error { return d.save(ctx, d) }

func (d *SQLModelData) String() string {
	return fmt.Sprintf("SQLModelData: %s, %d records", d.table, len(d.records))
}

// ConstructorFor returns the Constructor decoding bytes of type t. SQL_MODEL
// data has no byte form.
func ConstructorFor(t DataType) (Constructor, error) {
	switch t {
	case TypeRaw:
		return NewRawFromBytes, nil
	case TypeJSON:
		return NewJSONFromBytes, nil
	case TypeTable:
		return NewTableFromCSV, nil
	}
	return nil, &UnsupportedDataTypeError{Repository: "byte decoding", Type: t}
}
