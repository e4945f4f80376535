package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mofadvisor/internal/model"
)

// Key layout, \x00 separated so ids containing "/" never share a prefix:
//
//	doc\x00<id>                -> IndexedDocument
//	entry\x00<id>\x00<ordinal> -> IndexEntry
const (
	docPrefix   = "doc\x00"
	entryPrefix = "entry\x00"
)

type badgerConfig struct {
	Dir        string `json:"dir"`
	InMemory   bool   `json:"in_memory"`
	SyncWrites bool   `json:"sync_writes"`
}

type badgerIndex struct {
	db *badger.DB
}

func init() {
	Register("badger", createBadgerIndex)
}

func createBadgerIndex(args interface{}) (Index, error) {
	cfg := &badgerConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger index dir is required")
	}
	return OpenBadger(cfg.Dir, cfg.InMemory, cfg.SyncWrites)
}

// OpenBadger opens an embedded index at dir. With inMemory set dir is ignored.
func OpenBadger(dir string, inMemory bool, syncWrites bool) (Index, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(&badgerLogger{logger: logutil.GetLogger(context.Background()).With(zap.String("component", "badger"))}).
		WithSyncWrites(syncWrites)
	if inMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger index: %w", err)
	}
	return &badgerIndex{db: db}, nil
}

func docKey(id string) []byte {
	return []byte(docPrefix + id)
}

func entryDocPrefix(id string) []byte {
	return []byte(entryPrefix + id + "\x00")
}

func entryKey(id string, ordinal int) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%08d", entryPrefix, id, ordinal))
}

func (b *badgerIndex) Upsert(ctx context.Context, doc model.IndexedDocument, entries []model.IndexEntry) error {
	if err := validateUpsert(doc, entries); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	doc.Records = len(entries)
	docData, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, entryDocPrefix(doc.DocumentID)); err != nil {
			return err
		}
		if err := txn.Set(docKey(doc.DocumentID), docData); err != nil {
			return err
		}
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := txn.Set(entryKey(e.DocumentID, e.Ordinal), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (b *badgerIndex) Delete(ctx context.Context, documentID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, entryDocPrefix(documentID)); err != nil {
			return err
		}
		err := txn.Delete(docKey(documentID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (b *badgerIndex) Clear(ctx context.Context) error {
	return b.db.DropAll()
}

func (b *badgerIndex) Get(ctx context.Context, documentID string) (*model.IndexedDocument, bool, error) {
	var doc model.IndexedDocument
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(documentID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &doc, true, nil
}

func (b *badgerIndex) Documents(ctx context.Context) ([]model.IndexedDocument, error) {
	var out []model.IndexedDocument
	err := b.scan(ctx, []byte(docPrefix), func(val []byte) error {
		var doc model.IndexedDocument
		if err := json.Unmarshal(val, &doc); err != nil {
			return err
		}
		out = append(out, doc)
		return nil
	})
	return out, err
}

func (b *badgerIndex) Entries(ctx context.Context, documentID string) ([]model.IndexEntry, error) {
	var out []model.IndexEntry
	err := b.scan(ctx, entryDocPrefix(documentID), func(val []byte) error {
		var e model.IndexEntry
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

func (b *badgerIndex) Query(ctx context.Context, vector []float32, k int) ([]model.ScoredEntry, error) {
	top := newTopK(vector, k)
	err := b.scan(ctx, []byte(entryPrefix), func(val []byte) error {
		var e model.IndexEntry
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		top.add(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return top.result(), nil
}

// scan visits values under prefix in key order inside one read transaction.
func (b *badgerIndex) scan(ctx context.Context, prefix []byte, fn func(val []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerIndex) Close() error {
	return b.db.Close()
}

type badgerLogger struct {
	logger *zap.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(trimLog(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(trimLog(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(trimLog(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(trimLog(format, args...))
}

func trimLog(format string, args ...interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
