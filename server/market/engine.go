// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package market implements the settlement engine for custodial escrow
// sales. The engine orchestrates the create, buy, cancel, and withdraw-fee
// operations, each as one atomic unit of work: an authorization check, a
// status transition, and a bundle of ledger transfers that commit together
// or not at all.
package market

import (
	"fmt"
	"sync"
	"time"

	"escrowmarket.org/escrowd/escrow"
	"escrowmarket.org/escrowd/escrow/calc"
	"escrowmarket.org/escrowd/escrow/msgjson"
	"escrowmarket.org/escrowd/server/auth"
	"escrowmarket.org/escrowd/server/custody"
	"escrowmarket.org/escrowd/server/db"
	"escrowmarket.org/escrowd/server/ledger"
)

// Notifier is the post-commit event sink. A Notify call must never affect
// the outcome of the operation that produced the event.
type Notifier interface {
	Notify(msg *msgjson.Message)
}

// Config is the settlement engine configuration. The fee rate and
// administrator identity are fixed protocol policy; the fields exist so
// tests can substitute alternate values without touching engine logic.
type Config struct {
	Ledger   *ledger.Ledger
	Archiver db.ListingArchiver
	// PaymentAsset is the asset in which prices are denominated and fees
	// are collected.
	PaymentAsset escrow.AssetID
	// FeeBps is the protocol fee rate in basis points. Zero means use the
	// fixed escrow.FeeBps.
	FeeBps uint64
	// Admin is the administrator identity. The zero value means use the
	// fixed escrow.AdminID.
	Admin escrow.AccountID
	// Notifier receives post-commit event notifications. May be nil.
	Notifier Notifier
	// Now is the time source for expiry gating. Nil means time.Now.
	Now func() time.Time
}

// listingEntry pairs a listing with its operation lock. The lock linearizes
// concurrent operations against the same listing, standing in for the
// external ledger's serialization of atomic units against one record.
type listingEntry struct {
	mtx     sync.Mutex
	listing *escrow.Listing
}

// Engine is the settlement engine.
type Engine struct {
	ledger       *ledger.Ledger
	archiver     db.ListingArchiver
	arena        *custody.Arena
	checker      *auth.Checker
	notifier     Notifier
	paymentAsset escrow.AssetID
	feeBps       uint64
	admin        escrow.AccountID
	now          func() time.Time

	mtx      sync.RWMutex
	listings map[escrow.ListingID]*listingEntry
}

// New constructs the Engine, opens the fee vault, and reloads any archived
// listings, rebinding custody records for those still open.
func New(cfg *Config) (*Engine, error) {
	feeBps := cfg.FeeBps
	if feeBps == 0 {
		feeBps = escrow.FeeBps
	}
	admin := cfg.Admin
	if admin.IsZero() {
		admin = escrow.AdminID
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	arena, err := custody.New(&custody.Config{
		Ledger:       cfg.Ledger,
		PaymentAsset: cfg.PaymentAsset,
		Occupied: func(lid escrow.ListingID) bool {
			_, err := cfg.Archiver.Listing(lid)
			return err == nil
		},
		Log: log,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		ledger:       cfg.Ledger,
		archiver:     cfg.Archiver,
		arena:        arena,
		checker:      auth.NewChecker(admin),
		notifier:     cfg.Notifier,
		paymentAsset: cfg.PaymentAsset,
		feeBps:       feeBps,
		admin:        admin,
		now:          now,
		listings:     make(map[escrow.ListingID]*listingEntry),
	}

	archived, err := cfg.Archiver.Listings()
	if err != nil {
		return nil, fmt.Errorf("error loading archived listings: %w", err)
	}
	var open int
	for _, l := range archived {
		e.listings[l.ID()] = &listingEntry{listing: l}
		if l.Status == escrow.StatusOpen {
			arena.Rebind(l)
			open++
		}
	}
	if len(archived) > 0 {
		log.Infof("Loaded %d archived listings, %d still open", len(archived), open)
	}

	return e, nil
}

// Listing retrieves a copy of the listing record.
func (e *Engine) Listing(lid escrow.ListingID) (escrow.Listing, error) {
	e.mtx.RLock()
	entry, found := e.listings[lid]
	e.mtx.RUnlock()
	if !found {
		return escrow.Listing{}, escrow.NewError(escrow.ErrListingNotFound, lid.String())
	}
	entry.mtx.Lock()
	defer entry.mtx.Unlock()
	return *entry.listing, nil
}

// OpenListings retrieves copies of all currently open listings.
func (e *Engine) OpenListings() []escrow.Listing {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	open := make([]escrow.Listing, 0, len(e.listings))
	for _, entry := range e.listings {
		entry.mtx.Lock()
		if entry.listing.Status == escrow.StatusOpen {
			open = append(open, *entry.listing)
		}
		entry.mtx.Unlock()
	}
	return open
}

// FeeBalance is the current balance of the fee accumulation vault.
func (e *Engine) FeeBalance() (uint64, error) {
	return e.ledger.Balance(e.arena.FeeVault())
}

// entry retrieves the listing entry, locked. The caller must unlock it.
func (e *Engine) entry(lid escrow.ListingID) (*listingEntry, error) {
	e.mtx.RLock()
	entry, found := e.listings[lid]
	e.mtx.RUnlock()
	if !found {
		return nil, escrow.NewError(escrow.ErrListingNotFound, lid.String())
	}
	entry.mtx.Lock()
	return entry, nil
}

// ownedAccount fetches the ledger account and verifies that it holds the
// wanted asset under the wanted owner's authority.
func (e *Engine) ownedAccount(id escrow.AccountID, owner escrow.AccountID, asset escrow.AssetID) (ledger.Account, error) {
	acct, err := e.ledger.Account(id)
	if err != nil {
		return acct, err
	}
	if acct.Authority != owner {
		return acct, escrow.NewError(escrow.ErrUnauthorized,
			fmt.Sprintf("account %s is not controlled by %s", id, owner))
	}
	if acct.Asset != asset {
		return acct, escrow.NewError(escrow.ErrAssetMismatch,
			fmt.Sprintf("account %s holds %s, expected %s", id, acct.Asset, asset))
	}
	return acct, nil
}

// CreateListing escrows quantity units from the seller's asset account into
// a freshly derived custody sub-account and records the listing open. A past
// expiry is legal and makes the listing immediately force-cancelable.
func (e *Engine) CreateListing(seller escrow.AccountID, sellerAcct escrow.AccountID, asset escrow.AssetID,
	price, quantity uint64, expiry int64, nonce uint64) (*escrow.Listing, error) {

	if quantity == 0 {
		return nil, escrow.ErrInvalidQuantity
	}
	if price == 0 {
		return nil, escrow.ErrInvalidPrice
	}
	if _, err := e.ownedAccount(sellerAcct, seller, asset); err != nil {
		return nil, err
	}

	rec, err := e.arena.Reserve(seller, asset, nonce)
	if err != nil {
		return nil, err
	}

	// Open the custody sub-account and fund it in one unit. Transfer
	// failure (e.g. insufficient seller balance) leaves no listing and no
	// custody point.
	err = e.ledger.Apply(func(tx *ledger.Tx) error {
		if err := tx.Open(rec.Account, asset, rec.Authority); err != nil {
			return err
		}
		return tx.Transfer(sellerAcct, rec.Account, quantity, seller)
	})
	if err != nil {
		e.arena.Release(rec.ListingID)
		return nil, err
	}

	listing := &escrow.Listing{
		Seller:   seller,
		Asset:    asset,
		Price:    price,
		Quantity: quantity,
		Expiry:   expiry,
		Status:   escrow.StatusOpen,
		Bump:     rec.Bump,
		Nonce:    nonce,
	}

	if err := e.archiver.StoreListing(listing); err != nil {
		// Unwind the funding unit so the failed create leaves no trace.
		unwindErr := e.ledger.Apply(func(tx *ledger.Tx) error {
			if err := tx.Transfer(rec.Account, sellerAcct, quantity, rec.Authority); err != nil {
				return err
			}
			return tx.Close(rec.Account, sellerAcct, rec.Authority)
		})
		if unwindErr != nil {
			log.Criticalf("failed to unwind custody funding for unarchivable listing %s: %v",
				rec.ListingID, unwindErr)
		}
		e.arena.Release(rec.ListingID)
		return nil, fmt.Errorf("error archiving listing %s: %w", rec.ListingID, err)
	}

	e.mtx.Lock()
	e.listings[rec.ListingID] = &listingEntry{listing: listing}
	e.mtx.Unlock()

	log.Debugf("listing %s created: seller %s sells %d of %s for %d",
		rec.ListingID, seller, quantity, asset, price)
	e.notify(msgjson.ListingCreatedRoute, &msgjson.ListingCreatedNote{
		Seller:   seller[:],
		Listing:  rec.ListingID[:],
		Asset:    asset[:],
		Price:    price,
		Quantity: quantity,
	})
	return listing, nil
}

// Buy settles an open listing: the buyer pays the listed price, split
// between the seller and the fee vault, and receives the full custodied
// quantity. The status flip and the three transfers are one atomic unit; at
// most one Buy can ever succeed for a listing.
func (e *Engine) Buy(lid escrow.ListingID, buyer escrow.AccountID,
	paymentAcct, receiveAcct, sellerReceiveAcct escrow.AccountID) error {

	entry, err := e.entry(lid)
	if err != nil {
		return err
	}
	defer entry.mtx.Unlock()
	listing := entry.listing

	// The status check is the mutual-exclusion gate: a concurrent buy or
	// cancel of the same listing is serialized by the entry lock and
	// observes the terminal status.
	newStatus, err := listing.Status.Advance(escrow.StatusSettled)
	if err != nil {
		return err
	}

	fee, sellerAmt, err := calc.Fee(listing.Price, e.feeBps)
	if err != nil {
		return err
	}

	if _, err := e.ownedAccount(paymentAcct, buyer, e.paymentAsset); err != nil {
		return err
	}
	if _, err := e.ownedAccount(receiveAcct, buyer, listing.Asset); err != nil {
		return err
	}
	if _, err := e.ownedAccount(sellerReceiveAcct, listing.Seller, e.paymentAsset); err != nil {
		return err
	}
	rec, found := e.arena.Record(lid)
	if !found {
		return fmt.Errorf("no custody record for open listing %s", lid)
	}

	err = e.ledger.Apply(func(tx *ledger.Tx) error {
		if err := tx.Transfer(paymentAcct, sellerReceiveAcct, sellerAmt, buyer); err != nil {
			return err
		}
		if err := tx.Transfer(paymentAcct, e.arena.FeeVault(), fee, buyer); err != nil {
			return err
		}
		if err := tx.Transfer(rec.Account, receiveAcct, listing.Quantity, rec.Authority); err != nil {
			return err
		}
		return tx.Close(rec.Account, sellerReceiveAcct, rec.Authority)
	})
	if err != nil {
		return err
	}

	listing.Status = newStatus
	e.arena.Release(lid)
	if err := e.archiver.StoreListing(listing); err != nil {
		log.Errorf("error archiving settled listing %s: %v", lid, err)
	}

	log.Debugf("listing %s settled: buyer %s paid %d (fee %d)", lid, buyer, listing.Price, fee)
	e.notify(msgjson.PurchasedRoute, &msgjson.PurchasedNote{
		Listing: lid[:],
		Buyer:   buyer[:],
		Price:   listing.Price,
	})
	return nil
}

// Cancel unwinds an open listing, returning the custodied quantity to the
// seller. The seller may cancel at any time; anyone may cancel once the
// listing's expiry has passed.
func (e *Engine) Cancel(lid escrow.ListingID, caller escrow.AccountID, sellerAcct escrow.AccountID) error {
	entry, err := e.entry(lid)
	if err != nil {
		return err
	}
	defer entry.mtx.Unlock()
	listing := entry.listing

	newStatus, err := listing.Status.Advance(escrow.StatusCanceled)
	if err != nil {
		return err
	}
	if err := e.checker.CancelAuthority(caller, listing, e.now()); err != nil {
		return err
	}
	if _, err := e.ownedAccount(sellerAcct, listing.Seller, listing.Asset); err != nil {
		return err
	}
	rec, found := e.arena.Record(lid)
	if !found {
		return fmt.Errorf("no custody record for open listing %s", lid)
	}

	err = e.ledger.Apply(func(tx *ledger.Tx) error {
		if err := tx.Transfer(rec.Account, sellerAcct, listing.Quantity, rec.Authority); err != nil {
			return err
		}
		return tx.Close(rec.Account, sellerAcct, rec.Authority)
	})
	if err != nil {
		return err
	}

	listing.Status = newStatus
	e.arena.Release(lid)
	if err := e.archiver.StoreListing(listing); err != nil {
		log.Errorf("error archiving canceled listing %s: %v", lid, err)
	}

	log.Debugf("listing %s canceled by %s", lid, caller)
	e.notify(msgjson.CanceledRoute, &msgjson.CanceledNote{
		Listing: lid[:],
		Seller:  listing.Seller[:],
	})
	return nil
}

// WithdrawFee drains amount from the fee accumulation vault to the
// administrator's receiving account. Only the fixed administrator identity
// may withdraw, and a request exceeding the accumulated balance fails whole.
func (e *Engine) WithdrawFee(caller escrow.AccountID, destAcct escrow.AccountID, amount uint64) error {
	if err := e.checker.AdminOnly(caller); err != nil {
		return err
	}
	if _, err := e.ownedAccount(destAcct, caller, e.paymentAsset); err != nil {
		return err
	}

	err := e.ledger.Apply(func(tx *ledger.Tx) error {
		return tx.Transfer(e.arena.FeeVault(), destAcct, amount, e.arena.VaultAuthority())
	})
	if err != nil {
		return err
	}

	log.Debugf("fee withdrawal of %d by admin %s", amount, caller)
	e.notify(msgjson.FeeWithdrawnRoute, &msgjson.FeeWithdrawnNote{
		Admin:  caller[:],
		Amount: amount,
	})
	return nil
}

// SetNotifier sets the post-commit notification sink. It must be called
// before the Engine begins processing operations, typically to break the
// construction cycle with the comms server.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// notify marshals and delivers a post-commit notification. Emission failure
// is logged, never propagated; a committed transition stands regardless.
func (e *Engine) notify(route string, payload any) {
	if e.notifier == nil {
		return
	}
	msg, err := msgjson.NewNotification(route, payload)
	if err != nil {
		log.Errorf("error encoding %s notification: %v", route, err)
		return
	}
	e.notifier.Notify(msg)
}
