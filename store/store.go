// Package store persists pool snapshots in a pebble database, CBOR encoded.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	amm "github.com/Iwinswap/iwinswap-amm-pool"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ugorji/go/codec"
)

var (
	ErrDBClosed    = errors.New("database is closed")
	ErrKeyNotFound = errors.New("snapshot not found")
)

var snapshotPrefix = []byte("snapshot/")

var cborHandle = &codec.CborHandle{}

// Store keeps named snapshots. Writes are synced before returning.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the database in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open snapshot store %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a database that lives only as long as the Store.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open in-memory snapshot store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return ErrDBClosed
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func snapshotKey(name string) []byte {
	return append(bytes.Clone(snapshotPrefix), name...)
}

func encodeRecord(buf *[]byte, rec *snapshotRecord) error {
	return codec.NewEncoderBytes(buf, cborHandle).Encode(rec)
}

// Save writes snap under name, replacing any previous snapshot.
func (s *Store) Save(ctx context.Context, name string, snap *amm.Snapshot) error {
	if s.db == nil {
		return ErrDBClosed
	}
	if name == "" {
		return errors.New("snapshot name is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf []byte
	if err := encodeRecord(&buf, toRecord(snap)); err != nil {
		return fmt.Errorf("encode snapshot %q: %w", name, err)
	}
	return s.db.Set(snapshotKey(name), buf, pebble.Sync)
}

// Load reads the snapshot stored under name.
func (s *Store) Load(ctx context.Context, name string) (*amm.Snapshot, error) {
	if s.db == nil {
		return nil, ErrDBClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	val, closer, err := s.db.Get(snapshotKey(name))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, name)
		}
		return nil, err
	}
	defer closer.Close()

	var rec snapshotRecord
	if err := codec.NewDecoderBytes(val, cborHandle).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode snapshot %q: %w", name, err)
	}
	snap, err := fromRecord(&rec)
	if err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", name, err)
	}
	return snap, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if s.db == nil {
		return ErrDBClosed
	}
	return s.db.Delete(snapshotKey(name), pebble.Sync)
}

// List returns the names of all stored snapshots in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, ErrDBClosed
	}
	upper := bytes.Clone(snapshotPrefix)
	upper[len(upper)-1]++

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: snapshotPrefix,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var names []string
	for iter.First(); iter.Valid(); iter.Next() {
		names = append(names, string(iter.Key()[len(snapshotPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
