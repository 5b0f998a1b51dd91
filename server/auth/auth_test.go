// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package auth

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"escrowmarket.org/escrowd/escrow"
)

func randomAccountID() escrow.AccountID {
	var id escrow.AccountID
	rand.Read(id[:])
	return id
}

func TestCancelAuthority(t *testing.T) {
	seller := randomAccountID()
	stranger := randomAccountID()
	expiry := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	listing := &escrow.Listing{
		Seller: seller,
		Expiry: expiry.Unix(),
	}
	c := NewChecker(randomAccountID())

	tests := []struct {
		name    string
		caller  escrow.AccountID
		now     time.Time
		wantErr bool
	}{
		{name: "seller before expiry", caller: seller, now: expiry.Add(-time.Hour)},
		{name: "seller after expiry", caller: seller, now: expiry.Add(time.Hour)},
		{name: "stranger before expiry", caller: stranger, now: expiry.Add(-time.Hour), wantErr: true},
		{name: "stranger at exact expiry", caller: stranger, now: expiry, wantErr: true},
		{name: "stranger after expiry", caller: stranger, now: expiry.Add(time.Second)},
	}

	for _, tt := range tests {
		err := c.CancelAuthority(tt.caller, listing, tt.now)
		if tt.wantErr != (err != nil) {
			t.Fatalf("%s: error = %v, wantErr = %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, escrow.ErrUnauthorized) {
			t.Fatalf("%s: error = %v, expected ErrUnauthorized", tt.name, err)
		}
	}
}

func TestSellerOnly(t *testing.T) {
	seller := randomAccountID()
	listing := &escrow.Listing{Seller: seller}
	c := NewChecker(randomAccountID())

	if err := c.SellerOnly(seller, listing); err != nil {
		t.Fatalf("seller rejected: %v", err)
	}
	if err := c.SellerOnly(randomAccountID(), listing); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("error = %v, expected ErrUnauthorized", err)
	}
}

func TestAdminOnly(t *testing.T) {
	admin := randomAccountID()
	c := NewChecker(admin)

	if err := c.AdminOnly(admin); err != nil {
		t.Fatalf("admin rejected: %v", err)
	}
	if err := c.AdminOnly(randomAccountID()); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("error = %v, expected ErrUnauthorized", err)
	}
}
