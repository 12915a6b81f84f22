package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DataType tags the kind of payload a Data carries.
type DataType int

const (
	TypeRaw      DataType = iota // []byte
	TypeJSON                     // any JSON value
	TypeTable                    // columns + rows
	TypeSQLModel                 // records destined for a SQL table
)

// String returns the lower-case name used in config files and manifests.
func (t DataType) String() string {
	switch t {
	case TypeRaw:
		return "raw"
	case TypeJSON:
		return "json"
	case TypeTable:
		return "table"
	case TypeSQLModel:
		return "sql_model"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "raw", "":
		return TypeRaw, nil
	case "json":
		return TypeJSON, nil
	case "table", "dataframe":
		return TypeTable, nil
	case "sql_model":
		return TypeSQLModel, nil
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// ErrUnsupportedDataType matches every UnsupportedDataTypeError.
var ErrUnsupportedDataType = errors.New("unsupported data type")

// UnsupportedDataTypeError is returned by a Repository asked to persist a
// DataType it cannot store.
type UnsupportedDataTypeError struct {
	Repository string
	Type       DataType
}

func (e *UnsupportedDataTypeError) Error() string {
	return fmt.Sprintf("%s does not support data type %s", e.Repository, e.Type)
}

func (e *UnsupportedDataTypeError) Is(target error) bool {
	return target == ErrUnsupportedDataType
}

// Repository persists Data and loads raw bytes back through a Constructor.
type Repository interface {
	Save(ctx context.Context, d Data) error
	Load(ctx context.Context, ctor Constructor) (Data, error)
}

// Constructor builds a Data from the raw bytes a Repository loaded.
type Constructor func(repo Repository, raw []byte) (Data, error)

// Data is a tagged payload with optional persistence.
type Data interface {
	Content() any
	DataType() DataType
	Repository() Repository
	SetRepository(repo Repository)
	// Save delegates to the Repository; it is a no-op without one.
	Save(ctx context.Context) error
}

// handle carries the repository binding shared by every payload type.
type handle struct {
	mu   sync.RWMutex
	repo Repository
}

func (h *handle) Repository() Repository {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.repo
}

func (h *handle) SetRepository(repo Repository) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.repo = repo
}

func (h *handle) save(ctx context.Context, d Data) error {
	repo := h.Repository()
	if repo == nil {
		return nil
	}
	return repo.Save(ctx, d)
}
