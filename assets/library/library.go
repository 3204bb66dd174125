// Package library keeps binary assets in a local bbolt database so they
// can be loaded without a project or bundle file.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"miren.dev/studio/assets"
	"miren.dev/studio/assets/bundle"
)

var (
	assetsBucket  = []byte("assets")
	bundlesBucket = []byte("bundles")
)

var ErrCorrupt = errors.New("corrupt library record")

// Library is an asset source backed by a bbolt database. Each asset is
// stored as its type uuid followed by its binary payload.
type Library struct {
	log *slog.Logger
	db  *bbolt.DB
}

var _ assets.Source = (*Library)(nil)

func Open(log *slog.Logger, path string) (*Library, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening library %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(assetsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bundlesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Library{
		log: log.With("module", "library"),
		db:  db,
	}, nil
}

func (l *Library) Close() error {
	return l.db.Close()
}

func record(typ uuid.UUID, data []byte) []byte {
	buf := make([]byte, 16+len(data))
	copy(buf, typ[:])
	copy(buf[16:], data)
	return buf
}

func (l *Library) Put(id, typ uuid.UUID, data []byte) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(assetsBucket).Put(id[:], record(typ, data))
	})
}

func (l *Library) Delete(id uuid.UUID) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(assetsBucket).Delete(id[:])
	})
}

func (l *Library) Fetch(ctx context.Context, id uuid.UUID) (*assets.Blob, error) {
	var blob *assets.Blob

	err := l.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(assetsBucket).Get(id[:])
		if v == nil {
			return nil
		}

		if len(v) < 16 {
			return fmt.Errorf("%w: asset %s", ErrCorrupt, id)
		}

		// v is only valid during the transaction.
		blob = &assets.Blob{
			TypeUUID: uuid.UUID(v[:16]),
			Data:     append([]byte(nil), v[16:]...),
		}

		return nil
	})

	return blob, err
}

// Item describes a stored asset.
type Item struct {
	ID   uuid.UUID
	Type uuid.UUID
	Size int
}

// List returns every stored asset ordered by uuid.
func (l *Library) List() ([]Item, error) {
	var items []Item

	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(assetsBucket).ForEach(func(k, v []byte) error {
			if len(k) != 16 || len(v) < 16 {
				return fmt.Errorf("%w: key %x", ErrCorrupt, k)
			}

			items = append(items, Item{
				ID:   uuid.UUID(k),
				Type: uuid.UUID(v[:16]),
				Size: len(v) - 16,
			})

			return nil
		})
	})

	return items, err
}

// ImportBundle copies every record of a bundle into the library in one
// transaction. digest names the bundle in the import history.
func (l *Library) ImportBundle(br *bundle.Reader, digest string) (int, error) {
	ids := br.IDs()

	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(assetsBucket)

		for _, id := range ids {
			rec, err := br.Record(id)
			if err != nil {
				return err
			}

			if err := b.Put(id[:], record(rec.Type, rec.Data)); err != nil {
				return err
			}
		}

		if digest == "" {
			return nil
		}

		stamp, err := time.Now().UTC().MarshalText()
		if err != nil {
			return err
		}

		return tx.Bucket(bundlesBucket).Put([]byte(digest), stamp)
	})
	if err != nil {
		return 0, err
	}

	l.log.Info("imported bundle", "digest", digest, "assets", len(ids))

	return len(ids), nil
}

// Imported reports whether a bundle with digest was imported before.
func (l *Library) Imported(digest string) (bool, error) {
	var found bool

	err := l.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bundlesBucket).Get([]byte(digest)) != nil
		return nil
	})

	return found, err
}
