// Package badger provides a Badger-based implementation of the storage interface.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/storage"
)

// Config holds configuration for BadgerStorage.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
	// InMemory keeps all data in RAM; Path is ignored.
	InMemory bool
}

// BadgerStorage implements the Storage interface using Badger.
type BadgerStorage struct {
	db     *badger.DB
	config *Config
}

var _ storage.Storage = (*BadgerStorage)(nil)

// NewBadgerStorage creates a new Badger storage instance.
func NewBadgerStorage(config *Config) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}

	return &BadgerStorage{
		db:     db,
		config: config,
	}, nil
}

// Key layout:
//
//	run:data:{id}
//	run:doc:{id}:{seq}
//	run:index:status:{status}:{id}
const (
	runDataPrefix   = "run:data:"
	runDocPrefix    = "run:doc:"
	runStatusPrefix = "run:index:status:"
)

func runKey(id string) []byte {
	return []byte(runDataPrefix + id)
}

func docPrefix(runID string) []byte {
	return []byte(runDocPrefix + runID + ":")
}

func docKey(runID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s:%06d", runDocPrefix, runID, seq))
}

func statusIndexPrefix(status model.RunState) []byte {
	return []byte(runStatusPrefix + string(status) + ":")
}

func statusIndexKey(status model.RunState, id string) []byte {
	return append(statusIndexPrefix(status), id...)
}

// Serialization helpers
func serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &storage.SerializationError{Operation: "marshal", Cause: err}
	}
	return data, nil
}

func deserialize(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &storage.SerializationError{Operation: "unmarshal", Cause: err}
	}
	return nil
}

// SaveRun saves a run and keeps its status index current.
func (b *BadgerStorage) SaveRun(ctx context.Context, run *storage.RunRecord) error {
	data, err := serialize(run)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		prev, err := b.getRunInTxn(txn, run.ID)
		switch {
		case err == nil && prev.Status != run.Status:
			if err := txn.Delete(statusIndexKey(prev.Status, run.ID)); err != nil {
				return err
			}
		case err != nil && !isNotFound(err):
			return err
		}

		if err := txn.Set(runKey(run.ID), data); err != nil {
			return err
		}
		return txn.Set(statusIndexKey(run.Status, run.ID), []byte{})
	})
}

// GetRun retrieves a run by ID.
func (b *BadgerStorage) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	var run *storage.RunRecord
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		run, err = b.getRunInTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns lists runs newest first with optional filtering and pagination.
func (b *BadgerStorage) ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunRecord, int, error) {
	var runs []*storage.RunRecord

	err := b.db.View(func(txn *badger.Txn) error {
		// Status filters walk the index; otherwise scan all run records.
		if filter != nil && len(filter.Status) > 0 {
			for _, status := range filter.Status {
				prefix := statusIndexPrefix(status)
				opts := badger.DefaultIteratorOptions
				opts.Prefix = prefix
				opts.PrefetchValues = false

				it := txn.NewIterator(opts)
				for it.Rewind(); it.Valid(); it.Next() {
					id := string(it.Item().Key()[len(prefix):])
					run, err := b.getRunInTxn(txn, id)
					if err != nil {
						continue
					}
					if filter.Match(run) {
						runs = append(runs, run)
					}
				}
				it.Close()
			}
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runDataPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var run storage.RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &run)
			}); err != nil {
				continue
			}
			if filter.Match(&run) {
				runs = append(runs, &run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	storage.SortRuns(runs)
	page, total := storage.Paginate(runs, filter)
	return page, total, nil
}

func (b *BadgerStorage) getRunInTxn(txn *badger.Txn, id string) (*storage.RunRecord, error) {
	item, err := txn.Get(runKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, &storage.NotFoundError{EntityType: "run", ID: id}
		}
		return nil, err
	}

	var run storage.RunRecord
	if err := item.Value(func(val []byte) error {
		return deserialize(val, &run)
	}); err != nil {
		return nil, err
	}
	return &run, nil
}

// DeleteRun deletes a run, its index entry and its documents.
func (b *BadgerStorage) DeleteRun(ctx context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		run, err := b.getRunInTxn(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(runKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(statusIndexKey(run.Status, id)); err != nil {
			return err
		}
		return deleteDocsInTxn(txn, id)
	})
}

func deleteDocsInTxn(txn *badger.Txn, runID string) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = docPrefix(runID)
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// SaveDocuments replaces the documents of a run.
func (b *BadgerStorage) SaveDocuments(ctx context.Context, runID string, docs []model.Document) error {
	encoded := make([][]byte, len(docs))
	for i := range docs {
		data, err := serialize(&docs[i])
		if err != nil {
			return err
		}
		encoded[i] = data
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := b.getRunInTxn(txn, runID); err != nil {
			return err
		}
		if err := deleteDocsInTxn(txn, runID); err != nil {
			return err
		}
		for i, data := range encoded {
			if err := txn.Set(docKey(runID, i), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDocuments returns the documents of a run in saved order.
func (b *BadgerStorage) ListDocuments(ctx context.Context, runID string) ([]model.Document, error) {
	var docs []model.Document

	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := b.getRunInTxn(txn, runID); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = docPrefix(runID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var doc model.Document
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &doc)
			}); err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Close closes the Badger database.
func (b *BadgerStorage) Close() error {
	// Value log GC is best effort; ErrNoRewrite just means nothing to reclaim.
	if !b.config.InMemory {
		_ = b.db.RunValueLogGC(0.5)
	}
	return b.db.Close()
}

func isNotFound(err error) bool {
	var nf *storage.NotFoundError
	return errors.As(err, &nf)
}
