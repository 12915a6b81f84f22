package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrKeyNotFound is returned by Get when a name is not stored in the DataSet.
var ErrKeyNotFound = errors.New("key not found")

// DataSet is a named collection of Data handles passed between tasks.
// Names are unique; iteration follows insertion order.
type DataSet struct {
	mu    sync.RWMutex
	data  map[string]Data
	order []string
}

// New creates an empty DataSet.
func New() *DataSet {
	return &DataSet{
		data: make(map[string]Data),
	}
}

// Put stores d under name, overwriting any previous entry, and returns the
// receiver for chaining.
func (ds *DataSet) Put(name string, d Data) *DataSet {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if _, exists := ds.data[name]; !exists {
		ds.order = append(ds.order, name)
	}
	ds.data[name] = d
	return ds
}

// Get returns the Data stored under name.
func (ds *DataSet) Get(name string) (Data, error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, name)
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	d, ok := ds.data[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, name)
	}
	return d, nil
}

// Has reports whether name is stored.
func (ds *DataSet) Has(name string) bool {
	if ds == nil {
		return false
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	_, ok := ds.data[name]
	return ok
}

// Keys returns the stored names in insertion order.
func (ds *DataSet) Keys() []string {
	if ds == nil {
		return nil
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	return append([]string(nil), ds.order...)
}

// Len returns the number of stored entries.
func (ds *DataSet) Len() int {
	if ds == nil {
		return 0
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	return len(ds.order)
}

// Merge overlays other's entries onto the receiver, last writer wins per key.
// A nil or empty other is a no-op.
func (ds *DataSet) Merge(other *DataSet) *DataSet {
	if other == nil || other == ds {
		return ds
	}

	// Snapshot other first so two DataSets merging into each other can't deadlock.
	other.mu.RLock()
	names := append([]string(nil), other.order...)
	values := make([]Data, len(names))
	for i, name := range names {
		values[i] = other.data[name]
	}
	other.mu.RUnlock()

	for i, name := range names {
		ds.Put(name, values[i])
	}
	return ds
}

// Clone returns a shallow copy: a new DataSet holding the same Data handles.
func (ds *DataSet) Clone() *DataSet {
	return New().Merge(ds)
}

// SaveAll calls Save on every value in iteration order and stops at the
// first failure.
func (ds *DataSet) SaveAll(ctx context.Context) error {
	for _, name := range ds.Keys() {
		d, err := ds.Get(name)
		if err != nil {
			return err
		}
		if err := d.Save(ctx); err != nil {
			return fmt.Errorf("saving %q: %w", name, err)
		}
	}
	return nil
}

// String renders the DataSet as DataSet(k1,k2,...).
func (ds *DataSet) String() string {
	return fmt.Sprintf("DataSet(%s)", strings.Join(ds.Keys(), ","))
}
