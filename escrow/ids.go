// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/crypto/blake256"
)

// HashFunc is the hash function used to derive all engine identifiers.
var HashFunc = blake256.Sum256

// HashSize is the size of all engine identifiers.
const HashSize = blake256.Size

// AccountID is the identifier of a party or holding account on the ledger.
type AccountID [HashSize]byte

// String returns a hexadecimal representation of the AccountID. String
// implements fmt.Stringer.
func (aid AccountID) String() string {
	return hex.EncodeToString(aid[:])
}

// IsZero is true for the zero-value AccountID.
func (aid AccountID) IsZero() bool {
	return aid == AccountID{}
}

// AssetID identifies a fungible asset kind.
type AssetID [HashSize]byte

// String returns a hexadecimal representation of the AssetID. String
// implements fmt.Stringer.
func (aid AssetID) String() string {
	return hex.EncodeToString(aid[:])
}

// ListingIDSize is the length of a ListingID.
const ListingIDSize = HashSize

// ListingID is the unique identifier of a listing, derived from the seller,
// asset, nonce and disambiguation bump. The ListingID doubles as the derived
// custody authority for the listing's sub-account, so it must be unique
// across listings.
type ListingID [ListingIDSize]byte

// String returns a hexadecimal representation of the ListingID. String
// implements fmt.Stringer.
func (lid ListingID) String() string {
	return hex.EncodeToString(lid[:])
}

func decodeID(b []byte) ([HashSize]byte, error) {
	var id [HashSize]byte
	if len(b) != HashSize {
		return id, fmt.Errorf("wrong ID length %d, expected %d", len(b), HashSize)
	}
	copy(id[:], b)
	return id, nil
}

// DecodeAccountID decodes a 32-byte slice into an AccountID.
func DecodeAccountID(b []byte) (AccountID, error) {
	id, err := decodeID(b)
	return AccountID(id), err
}

// DecodeAssetID decodes a 32-byte slice into an AssetID.
func DecodeAssetID(b []byte) (AssetID, error) {
	id, err := decodeID(b)
	return AssetID(id), err
}

// DecodeListingID decodes a 32-byte slice into a ListingID.
func DecodeListingID(b []byte) (ListingID, error) {
	id, err := decodeID(b)
	return ListingID(id), err
}

// AccountIDFromHex parses a hexadecimal string into an AccountID.
func AccountIDFromHex(s string) (AccountID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return AccountID{}, err
	}
	return DecodeAccountID(b)
}

// AssetIDFromHex parses a hexadecimal string into an AssetID.
func AssetIDFromHex(s string) (AssetID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return AssetID{}, err
	}
	return DecodeAssetID(b)
}

// ListingIDFromHex parses a hexadecimal string into a ListingID.
func ListingIDFromHex(s string) (ListingID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ListingID{}, err
	}
	return DecodeListingID(b)
}
