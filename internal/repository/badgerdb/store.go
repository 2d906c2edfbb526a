// Package badgerdb implements the storage port on an embedded BadgerDB.
//
// Key layout:
//
//	user:{id}                                  -> userRecord
//	msg:{id}                                   -> messageRecord
//	dm:{low}:{high}:{unix_nano}:{id}           -> message id (direct history)
//	channel:{id}                               -> channelRecord
//	chmsg:{channel}:{unix_nano}:{message}      -> message id (channel history)
//	chlink:{channel}:{message}                 -> chmsg key (idempotent append)
//	uch:{user}:{channel}                       -> empty (channels per user)
//
// Timestamps are zero padded to 19 digits so keys sort chronologically.
package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const maxTxnAttempts = 5

// Open opens (or creates) a database at path.
func Open(path string, log *slog.Logger) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", path, err)
	}
	if log != nil {
		log.Info("Badger opened", "path", path)
	}
	return db, nil
}

// update runs fn in a read-write transaction, retrying on write conflicts.
// The transaction is discarded instead of committed once ctx is done.
func update(ctx context.Context, db *badger.DB, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	for range maxTxnAttempts {
		err = db.Update(func(txn *badger.Txn) error {
			if err := fn(txn); err != nil {
				return err
			}
			return ctx.Err()
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// view runs fn in a read-only transaction and fails once ctx is done.
func view(ctx context.Context, db *badger.DB, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.View(func(txn *badger.Txn) error {
		if err := fn(txn); err != nil {
			return err
		}
		return ctx.Err()
	})
}

func getJSON(txn *badger.Txn, key string, v any) (bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), b)
}

// scanIDs collects the uuid values stored under prefix, in key order.
func scanIDs(txn *badger.Txn, prefix string) ([]uuid.UUID, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []uuid.UUID
	for it.Rewind(); it.Valid(); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			id, err := uuid.FromBytes(val)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func userKey(id uuid.UUID) string    { return "user:" + id.String() }
func messageKey(id uuid.UUID) string { return "msg:" + id.String() }
func channelKey(id uuid.UUID) string { return "channel:" + id.String() }

func userChannelKey(userID, channelID uuid.UUID) string {
	return fmt.Sprintf("uch:%s:%s", userID, channelID)
}

func directPrefix(a, b uuid.UUID) string {
	if a.String() > b.String() {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%s:%s:", a, b)
}

func directKey(a, b uuid.UUID, at time.Time, id uuid.UUID) string {
	return fmt.Sprintf("%s%019d:%s", directPrefix(a, b), at.UnixNano(), id)
}

func channelMessagePrefix(channelID uuid.UUID) string {
	return fmt.Sprintf("chmsg:%s:", channelID)
}

func channelLinkKey(channelID, messageID uuid.UUID) string {
	return fmt.Sprintf("chlink:%s:%s", channelID, messageID)
}
