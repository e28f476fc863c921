// Package checkpoint persists per-shard stream positions in BadgerDB so a
// restarted consumer resumes after the last fully processed record.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const keyPrefix = "checkpoint:"

// Checkpoint is the last committed sequence number of one shard.
type Checkpoint struct {
	Stream         string    `json:"stream"`
	ShardID        string    `json:"shard_id"`
	SequenceNumber string    `json:"sequence_number"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store wraps a BadgerDB instance holding checkpoints.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens the checkpoint database at dir, creating the directory if
// needed. An empty dir opens an in-memory database.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "checkpoint")

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating checkpoint dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func makeKey(stream, shardID string) []byte {
	return []byte(keyPrefix + stream + ":" + shardID)
}

// Save records sequenceNumber as the committed position of a shard.
func (s *Store) Save(ctx context.Context, stream, shardID, sequenceNumber string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(Checkpoint{
		Stream:         stream,
		ShardID:        shardID,
		SequenceNumber: sequenceNumber,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *badger.Txn) error {
		return tx.Set(makeKey(stream, shardID), value)
	})
	if err != nil {
		return fmt.Errorf("saving checkpoint for %s/%s: %w", stream, shardID, err)
	}
	s.logger.Debug("saved checkpoint", "stream", stream, "shard", shardID, "sequence", sequenceNumber)
	return nil
}

// Load returns the checkpoint of a shard, or nil if none was saved.
func (s *Store) Load(ctx context.Context, stream, shardID string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cp *Checkpoint
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(makeKey(stream, shardID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cp = &Checkpoint{}
			return json.Unmarshal(val, cp)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint for %s/%s: %w", stream, shardID, err)
	}
	return cp, nil
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}
