// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"fmt"

	"escrowmarket.org/escrowd/escrow/encode"
)

// Status is a listing's settlement status. Open is the sole initial state.
// The only transitions are Open -> Settled and Open -> Canceled, both
// terminal and irreversible.
type Status uint8

const (
	// StatusOpen is the state of a newly created listing. Its custody
	// sub-account holds exactly the listed quantity.
	StatusOpen Status = iota
	// StatusSettled means the listing was purchased. Terminal.
	StatusSettled
	// StatusCanceled means the listing was unwound. Terminal.
	StatusCanceled
)

// String satisfies fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusSettled:
		return "settled"
	case StatusCanceled:
		return "canceled"
	}
	return fmt.Sprintf("unknown status %d", uint8(s))
}

// Advance validates the transition from the current Status to next. The
// status field is the engine's sole concurrency-control primitive, so
// Advance must be consulted exactly once per transition, inside the atomic
// unit that also performs the transfers.
func (s Status) Advance(next Status) (Status, error) {
	if s != StatusOpen {
		return s, NewError(ErrInvalidState, fmt.Sprintf("cannot leave terminal status %s", s))
	}
	switch next {
	case StatusSettled, StatusCanceled:
		return next, nil
	}
	return s, NewError(ErrInvalidState, fmt.Sprintf("no transition %s -> %s", s, next))
}

// SerializedListingSize is the length of a serialized Listing: 32 (seller) +
// 32 (asset) + 8 (price) + 8 (quantity) + 8 (expiry) + 1 (status) + 1 (bump)
// + 8 (nonce). The storage driver prepends its own record-type discriminator
// header; it is not part of this layout.
const SerializedListingSize = 32 + 32 + 8 + 8 + 8 + 1 + 1 + 8

// Listing is the persistent record of one sale offer. A Listing's custody
// sub-account holds exactly Quantity units of Asset while Status is
// StatusOpen, and zero once the status is terminal.
type Listing struct {
	// Seller is the asset owner that created the listing.
	Seller AccountID
	// Asset is the fungible asset kind being sold.
	Asset AssetID
	// Price is the total payment required to purchase the full quantity,
	// in the payment asset's smallest unit.
	Price uint64
	// Quantity is the amount of Asset held in custody for this listing.
	Quantity uint64
	// Expiry is the Unix timestamp after which anyone may force-cancel on
	// the seller's behalf. A past expiry is legal at creation.
	Expiry int64
	// Status is the listing's settlement status.
	Status Status
	// Bump is the derivation disambiguation byte.
	Bump byte
	// Nonce is the seller-supplied disambiguator allowing multiple
	// simultaneous listings for the same asset.
	Nonce uint64
}

// ID computes the listing's derived identifier from its own fields.
func (l *Listing) ID() ListingID {
	return DeriveListingID(l.Seller, l.Asset, l.Nonce, l.Bump)
}

// Serialize encodes the Listing into the fixed-width layout documented at
// SerializedListingSize.
func (l *Listing) Serialize() []byte {
	b := make([]byte, 0, SerializedListingSize)
	b = append(b, l.Seller[:]...)
	b = append(b, l.Asset[:]...)
	b = append(b, encode.Uint64Bytes(l.Price)...)
	b = append(b, encode.Uint64Bytes(l.Quantity)...)
	b = append(b, encode.Int64Bytes(l.Expiry)...)
	b = append(b, byte(l.Status), l.Bump)
	return append(b, encode.Uint64Bytes(l.Nonce)...)
}

// DecodeListing decodes a Listing from its fixed-width serialization.
func DecodeListing(b []byte) (*Listing, error) {
	if len(b) != SerializedListingSize {
		return nil, fmt.Errorf("wrong serialized listing length %d, expected %d",
			len(b), SerializedListingSize)
	}
	l := new(Listing)
	copy(l.Seller[:], b[:32])
	copy(l.Asset[:], b[32:64])
	l.Price = encode.BytesToUint64(b[64:72])
	l.Quantity = encode.BytesToUint64(b[72:80])
	l.Expiry = encode.BytesToInt64(b[80:88])
	l.Status = Status(b[88])
	if l.Status > StatusCanceled {
		return nil, fmt.Errorf("unknown listing status %d", b[88])
	}
	l.Bump = b[89]
	l.Nonce = encode.BytesToUint64(b[90:98])
	return l, nil
}
