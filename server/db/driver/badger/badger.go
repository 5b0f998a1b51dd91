// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package badger implements the db.Driver interface backed by a badger
// key-value store.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"escrowmarket.org/escrowd/escrow"
	"escrowmarket.org/escrowd/server/db"
	"github.com/dgraph-io/badger/v4"
)

// DriverName is the name under which the driver registers with the db
// package.
const DriverName = "badger"

// listingDiscriminator is the 8-byte record-type header prepended to every
// stored listing record. It guards against decoding foreign record types if
// the keyspace is ever shared.
var listingDiscriminator = func() []byte {
	h := escrow.HashFunc([]byte("record:listing"))
	return h[:8]
}()

// Driver implements db.Driver.
type Driver struct{}

func init() {
	db.Register(DriverName, &Driver{})
}

var log = escrow.Disabled

// UseLogger sets the package logger.
func (*Driver) UseLogger(logger escrow.Logger) {
	log = logger
}

// Config is the configuration for the badger archive.
type Config struct {
	// Path is the directory for the badger DB files.
	Path string
}

// Open creates the ListingArchiver backed by a badger DB at the configured
// path. The archive is closed when the caller invokes Close, not when ctx is
// canceled; ctx only bounds the opening itself.
func (*Driver) Open(_ context.Context, cfg any) (db.ListingArchiver, error) {
	badgerCfg, ok := cfg.(*Config)
	if !ok {
		return nil, fmt.Errorf("badger: invalid configuration type %T", cfg)
	}
	opts := badger.DefaultOptions(badgerCfg.Path).WithLogger(&badgerLoggerWrapper{log})
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: error opening DB at %q: %w", badgerCfg.Path, err)
	}
	return &archive{db: bdb}, nil
}

// archive is the badger-backed db.ListingArchiver.
type archive struct {
	db *badger.DB
}

// StoreListing stores the listing's fixed-width serialization behind the
// record-type discriminator, keyed by the derived listing ID.
func (a *archive) StoreListing(l *escrow.Listing) error {
	lid := l.ID()
	rec := make([]byte, 0, len(listingDiscriminator)+escrow.SerializedListingSize)
	rec = append(rec, listingDiscriminator...)
	rec = append(rec, l.Serialize()...)
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(lid[:], rec)
	})
}

func decodeRecord(rec []byte) (*escrow.Listing, error) {
	if len(rec) < len(listingDiscriminator) ||
		!bytes.Equal(rec[:len(listingDiscriminator)], listingDiscriminator) {
		return nil, fmt.Errorf("record is not a listing")
	}
	return escrow.DecodeListing(rec[len(listingDiscriminator):])
}

// Listing retrieves the listing record.
func (a *archive) Listing(lid escrow.ListingID) (l *escrow.Listing, err error) {
	err = a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lid[:])
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return escrow.NewError(escrow.ErrListingNotFound, lid.String())
			}
			return err
		}
		return item.Value(func(rec []byte) error {
			l, err = decodeRecord(rec)
			return err
		})
	})
	return l, err
}

// Listings retrieves all archived listing records.
func (a *archive) Listings() ([]*escrow.Listing, error) {
	var listings []*escrow.Listing
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(rec []byte) error {
				l, err := decodeRecord(rec)
				if err != nil {
					return err
				}
				listings = append(listings, l)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return listings, nil
}

// Close shuts down the badger DB.
func (a *archive) Close() error {
	return a.db.Close()
}
