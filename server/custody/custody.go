// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package custody maintains the arena of engine-controlled holding points:
// one custody sub-account per open listing, plus the protocol-wide fee
// accumulation vault. Spending power over these accounts is exactly "holds
// the derived authority ID", and the derived authorities never leave the
// server process.
package custody

import (
	"errors"
	"fmt"
	"sync"

	"escrowmarket.org/escrowd/escrow"
	"escrowmarket.org/escrowd/server/ledger"
)

// Record binds a listing to its unique custody sub-account and the derived
// authority that may spend from it.
type Record struct {
	ListingID escrow.ListingID
	Bump      byte
	Account   escrow.AccountID
	Authority escrow.AccountID
}

// Config is the configuration for the custody Arena.
type Config struct {
	// Ledger is the account ledger against which custody accounts are
	// opened and closed.
	Ledger *ledger.Ledger
	// PaymentAsset is the asset collected by the fee vault.
	PaymentAsset escrow.AssetID
	// Occupied optionally reports derivation keys that are taken outside
	// the arena's own index, e.g. by archived listings. A taken key is
	// skipped during the bump search so a retired listing's custody
	// derivation is never reused.
	Occupied func(escrow.ListingID) bool
	Log      escrow.Logger
}

// Arena is the index of live custody records, keyed by their derivation. A
// derivation key is occupied from Reserve until Release, so no two listings
// can alias the same custody storage.
type Arena struct {
	mtx     sync.Mutex
	records map[escrow.ListingID]*Record

	ledger    *ledger.Ledger
	occupied  func(escrow.ListingID) bool
	vault     escrow.AccountID
	vaultAuth escrow.AccountID
	log       escrow.Logger
}

// New constructs the Arena and opens the fee accumulation vault under its
// own derived authority.
func New(cfg *Config) (*Arena, error) {
	a := &Arena{
		records:   make(map[escrow.ListingID]*Record),
		ledger:    cfg.Ledger,
		occupied:  cfg.Occupied,
		vault:     escrow.FeeVaultAccount(),
		vaultAuth: escrow.FeeVaultAuthority(),
		log:       cfg.Log,
	}
	err := cfg.Ledger.OpenAccount(a.vault, cfg.PaymentAsset, a.vaultAuth)
	if err != nil && !errors.Is(err, escrow.ErrAccountExists) {
		return nil, fmt.Errorf("error opening fee vault: %w", err)
	}
	return a, nil
}

// FeeVault is the ledger account ID of the fee accumulation vault.
func (a *Arena) FeeVault() escrow.AccountID {
	return a.vault
}

// VaultAuthority is the derived authority over the fee vault.
func (a *Arena) VaultAuthority() escrow.AccountID {
	return a.vaultAuth
}

// Reserve derives a fresh custody record for the seed material, searching
// bumps high to low for the first unoccupied derivation key, and reserves
// the key in the arena. The caller must Release the record if the listing is
// not ultimately funded, and when the custody sub-account is closed on exit
// from the open state. Exhausting all bumps returns ErrNoBump rather than
// aborting.
func (a *Arena) Reserve(seller escrow.AccountID, asset escrow.AssetID, nonce uint64) (*Record, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	for i := 255; i >= 0; i-- {
		bump := byte(i)
		lid := escrow.DeriveListingID(seller, asset, nonce, bump)
		if _, taken := a.records[lid]; taken {
			continue
		}
		if a.occupied != nil && a.occupied(lid) {
			continue
		}
		acct := escrow.CustodySubAccount(lid)
		if a.ledger.Exists(acct) {
			continue
		}
		rec := &Record{
			ListingID: lid,
			Bump:      bump,
			Account:   acct,
			Authority: escrow.CustodyAuthority(lid),
		}
		a.records[lid] = rec
		a.log.Tracef("reserved custody %s for listing %s (bump %d)", acct, lid, bump)
		return rec, nil
	}
	return nil, escrow.NewError(escrow.ErrNoBump,
		fmt.Sprintf("seller %s, asset %s, nonce %d", seller, asset, nonce))
}

// Rebind re-registers a custody record for a listing reloaded from the
// archive, preserving its recorded bump.
func (a *Arena) Rebind(l *escrow.Listing) *Record {
	lid := l.ID()
	rec := &Record{
		ListingID: lid,
		Bump:      l.Bump,
		Account:   escrow.CustodySubAccount(lid),
		Authority: escrow.CustodyAuthority(lid),
	}
	a.mtx.Lock()
	a.records[lid] = rec
	a.mtx.Unlock()
	return rec
}

// Record retrieves the custody record for a listing.
func (a *Arena) Record(lid escrow.ListingID) (*Record, bool) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	rec, found := a.records[lid]
	return rec, found
}

// Release frees the derivation key. Called after the custody sub-account is
// closed, or when a reserved listing fails to fund.
func (a *Arena) Release(lid escrow.ListingID) {
	a.mtx.Lock()
	delete(a.records, lid)
	a.mtx.Unlock()
}
