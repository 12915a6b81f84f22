// Package repository holds the persistence backends Data can be bound to.
//
// Every backend implements dataset.Repository: Save encodes a Data by its
// DataType and Load hands the stored bytes to a dataset.Constructor.
package repository

import (
	"fmt"

	"github.com/aristath/taskgraph/internal/dataset"
)

// encode renders d the way file-like backends store it: RAW as is, JSON as
// UTF-8 without HTML escaping, TABLE as CSV with a header row.
func encode(repo string, d dataset.Data) ([]byte, error) {
	switch v := d.(type) {
	case *dataset.RawData:
		return v.Bytes(), nil
	case *dataset.JSONData:
		b, err := v.Encode()
		if err != nil {
			return nil, fmt.Errorf("encoding json: %w", err)
		}
		return b, nil
	case *dataset.TableData:
		b, err := v.EncodeCSV()
		if err != nil {
			return nil, fmt.Errorf("encoding csv: %w", err)
		}
		return b, nil
	}
	return nil, &dataset.UnsupportedDataTypeError{Repository: repo, Type: d.DataType()}
}

// Encode renders d as a file-like backend would store it.
func Encode(d dataset.Data) ([]byte, error) {
	return encode("byte encoding", d)
}

var (
	_ dataset.Repository = (*LocalFile)(nil)
	_ dataset.Repository = (*ObjectStore)(nil)
	_ dataset.Repository = (*SQLiteTable)(nil)
	_ dataset.Repository = (*BadgerKey)(nil)
)
