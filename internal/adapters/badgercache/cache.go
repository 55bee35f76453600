package badgercache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"b2brecon/internal/domain"
)

const prefix = "parser-run/"

// Cache is the on-disk resume hint store, one key per run.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
	log *zap.Logger
}

// Open opens (or creates) the store under dir. Entries expire after ttl;
// zero keeps them until deleted.
func Open(dir string, ttl time.Duration, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db, ttl: ttl, log: log}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func key(runID string) []byte { return []byte(prefix + runID) }

func (c *Cache) Save(_ context.Context, runID string, entry domain.CachedJob) error {
	if runID == "" {
		return domain.Invalid("runId", "required")
	}
	if entry.SavedAt.IsZero() {
		entry.SavedAt = time.Now().UTC()
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key(runID), val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Load returns the hint for runID. An undecodable value is removed and
// reported as a miss.
func (c *Cache) Load(_ context.Context, runID string) (domain.CachedJob, bool, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(runID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.CachedJob{}, false, nil
	}
	if err != nil {
		return domain.CachedJob{}, false, err
	}

	var entry domain.CachedJob
	if err := json.Unmarshal(raw, &entry); err != nil || entry.JobID == "" {
		c.log.Warn("discarding corrupt resume hint", zap.String("run_id", runID), zap.Error(err))
		_ = c.Delete(context.Background(), runID)
		return domain.CachedJob{}, false, nil
	}
	if entry.Results == nil {
		entry.Results = domain.ResultSet{}
	}
	return entry, true, nil
}

func (c *Cache) Delete(_ context.Context, runID string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(runID))
	})
}

// Runs lists run ids that currently hold a hint.
func (c *Cache) Runs(_ context.Context) ([]string, error) {
	var out []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), prefix))
		}
		return nil
	})
	return out, err
}
