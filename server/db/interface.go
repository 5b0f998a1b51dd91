// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import (
	"escrowmarket.org/escrowd/escrow"
)

// ListingArchiver is the persistent store of listing records. Terminal
// listings remain archived after their custody sub-account is gone, which is
// also what keeps a retired listing's derivation key from being reused.
type ListingArchiver interface {
	// StoreListing stores or overwrites the listing record, keyed by its
	// derived ID.
	StoreListing(l *escrow.Listing) error
	// Listing retrieves the listing record, or ErrListingNotFound.
	Listing(lid escrow.ListingID) (*escrow.Listing, error)
	// Listings retrieves every archived listing record, for boot-time
	// reload of the settlement engine.
	Listings() ([]*escrow.Listing, error)
	// Close shuts down the archive.
	Close() error
}
