// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func randomAccountID() AccountID {
	var id AccountID
	rand.Read(id[:])
	return id
}

func randomAssetID() AssetID {
	var id AssetID
	rand.Read(id[:])
	return id
}

func TestStatusAdvance(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		next    Status
		wantErr bool
	}{
		{name: "open to settled", current: StatusOpen, next: StatusSettled},
		{name: "open to canceled", current: StatusOpen, next: StatusCanceled},
		{name: "open to open", current: StatusOpen, next: StatusOpen, wantErr: true},
		{name: "settled to canceled", current: StatusSettled, next: StatusCanceled, wantErr: true},
		{name: "settled to settled", current: StatusSettled, next: StatusSettled, wantErr: true},
		{name: "canceled to settled", current: StatusCanceled, next: StatusSettled, wantErr: true},
	}

	for _, tt := range tests {
		got, err := tt.current.Advance(tt.next)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidState) {
				t.Fatalf("%s: error = %v, expected ErrInvalidState", tt.name, err)
			}
			if got != tt.current {
				t.Fatalf("%s: status moved to %s on failed transition", tt.name, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if got != tt.next {
			t.Fatalf("%s: status = %s, expected %s", tt.name, got, tt.next)
		}
	}
}

func TestListingSerialization(t *testing.T) {
	listing := &Listing{
		Seller:   randomAccountID(),
		Asset:    randomAssetID(),
		Price:    1000,
		Quantity: 5,
		Expiry:   -1893456000, // pre-epoch expiries must round-trip too
		Status:   StatusOpen,
		Bump:     254,
		Nonce:    7,
	}

	b := listing.Serialize()
	if len(b) != SerializedListingSize {
		t.Fatalf("serialized length = %d, expected %d", len(b), SerializedListingSize)
	}

	reListing, err := DecodeListing(b)
	if err != nil {
		t.Fatalf("DecodeListing error: %v", err)
	}
	if *reListing != *listing {
		t.Fatalf("decoded listing does not match original. got %s, expected %s",
			spew.Sdump(reListing), spew.Sdump(listing))
	}

	// Truncated record.
	if _, err := DecodeListing(b[:len(b)-1]); err == nil {
		t.Fatalf("no error decoding truncated listing")
	}
	// Unknown status byte.
	b[88] = 3
	if _, err := DecodeListing(b); err == nil {
		t.Fatalf("no error decoding listing with status byte 3")
	}
}

func TestDerivation(t *testing.T) {
	seller := randomAccountID()
	asset := randomAssetID()

	lid := DeriveListingID(seller, asset, 1, 255)
	if lid == (ListingID{}) {
		t.Fatalf("zero listing ID")
	}
	// Deterministic.
	if lid != DeriveListingID(seller, asset, 1, 255) {
		t.Fatalf("listing derivation not deterministic")
	}
	// Every seed component must disambiguate.
	if lid == DeriveListingID(seller, asset, 2, 255) {
		t.Fatalf("nonce does not change derived listing ID")
	}
	if lid == DeriveListingID(seller, asset, 1, 254) {
		t.Fatalf("bump does not change derived listing ID")
	}
	if lid == DeriveListingID(randomAccountID(), asset, 1, 255) {
		t.Fatalf("seller does not change derived listing ID")
	}

	custody := CustodySubAccount(lid)
	if custody == AccountID(lid) {
		t.Fatalf("custody sub-account aliases the listing ID")
	}
	if custody == CustodySubAccount(DeriveListingID(seller, asset, 2, 255)) {
		t.Fatalf("custody sub-accounts alias across listings")
	}

	if FeeVaultAccount() == FeeVaultAuthority() {
		t.Fatalf("fee vault aliases its own authority")
	}
}
