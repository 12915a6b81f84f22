package tasks

import (
	"context"
	"fmt"

	"github.com/aristath/taskgraph/internal/ctxlog"
	"github.com/aristath/taskgraph/internal/dataset"
	"github.com/aristath/taskgraph/internal/repository"
	"github.com/aristath/taskgraph/internal/task"
)

// SaveSQLite writes Key into a table of a SQLite database file. Tables
// replace the target table; SQL model records are inserted.
type SaveSQLite struct {
	Key   string
	DB    string
	Table string
}

// NewSaveSQLite accepts params key, db and table (defaults to key).
func NewSaveSQLite(params map[string]any) (task.Task, error) {
	key, err := stringParam(params, "key", true, "")
	if err != nil {
		return nil, err
	}
	db, err := stringParam(params, "db", true, "")
	if err != nil {
		return nil, err
	}
	table, err := stringParam(params, "table", false, key)
	if err != nil {
		return nil, err
	}
	return &SaveSQLite{Key: key, DB: db, Table: table}, nil
}

func (t *SaveSQLite) Main(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
	d, err := ds.Get(t.Key)
	if err != nil {
		return nil, err
	}

	store, err := repository.NewSQLiteStore(ctx, t.DB)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if err := store.Table(t.Table).Save(ctx, d); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("saved to sqlite", "db", t.DB, "table", t.Table, "key", t.Key)
	return dataset.New(), nil
}

func (t *SaveSQLite) InputDataKeys() []string { return []string{t.Key} }

// SaveBadger writes Key into a Badger database directory.
type SaveBadger struct {
	Key    string
	Dir    string
	DBKey  string
	Synced bool
}

// NewSaveBadger accepts params key, dir and db_key (defaults to key).
func NewSaveBadger(params map[string]any) (task.Task, error) {
	key, err := stringParam(params, "key", true, "")
	if err != nil {
		return nil, err
	}
	dir, err := stringParam(params, "dir", true, "")
	if err != nil {
		return nil, err
	}
	dbKey, err := stringParam(params, "db_key", false, key)
	if err != nil {
		return nil, err
	}
	return &SaveBadger{Key: key, Dir: dir, DBKey: dbKey, Synced: true}, nil
}

func (t *SaveBadger) Main(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
	d, err := ds.Get(t.Key)
	if err != nil {
		return nil, err
	}

	logger := ctxlog.FromContext(ctx)
	store, err := repository.OpenBadger(repository.BadgerConfig{Path: t.Dir, SyncWrites: t.Synced, Logger: logger})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if err := store.Key(t.DBKey).Save(ctx, d); err != nil {
		return nil, err
	}
	logger.Debug("saved to badger", "dir", t.Dir, "db_key", t.DBKey, "key", t.Key)
	return dataset.New(), nil
}

func (t *SaveBadger) InputDataKeys() []string { return []string{t.Key} }

// SaveObject uploads Key to a gs://bucket/key URL.
type SaveObject struct {
	Key         string
	URL         string
	Credentials string
}

// NewSaveObject accepts params key, url and credentials (a service account
// file; application default credentials when empty).
func NewSaveObject(params map[string]any) (task.Task, error) {
	key, err := stringParam(params, "key", true, "")
	if err != nil {
		return nil, err
	}
	url, err := stringParam(params, "url", true, "")
	if err != nil {
		return nil, err
	}
	creds, err := stringParam(params, "credentials", false, "")
	if err != nil {
		return nil, err
	}
	if _, _, err := repository.ParseObjectURL(url); err != nil {
		return nil, fmt.Errorf("param %q: %w", "url", err)
	}
	return &SaveObject{Key: key, URL: url, Credentials: creds}, nil
}

func (t *SaveObject) Main(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
	d, err := ds.Get(t.Key)
	if err != nil {
		return nil, err
	}

	client, err := repository.NewGCSClient(ctx, t.Credentials)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	logger := ctxlog.FromContext(ctx)
	store, err := repository.NewObjectStore(client, t.URL, repository.WithObjectLogger(logger))
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if err := store.Save(ctx, d); err != nil {
		return nil, err
	}
	logger.Debug("uploaded object", "url", t.URL, "key", t.Key)
	return dataset.New(), nil
}

func (t *SaveObject) InputDataKeys() []string { return []string{t.Key} }
