// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package ledger

import (
	"fmt"
	"sync"

	"escrowmarket.org/escrowd/escrow"
)

// Account is a single-asset holding account. An account's balance may only
// be debited under its recorded authority; credits are unrestricted. A
// custody sub-account's authority is the engine-derived listing authority,
// never a user identity, which is what lets the settlement engine move funds
// out of escrow without the depositor's live cooperation.
type Account struct {
	ID        escrow.AccountID
	Asset     escrow.AssetID
	Authority escrow.AccountID
	Balance   uint64
}

// Ledger is an in-process model of the external ledger collaborator: a set
// of single-asset accounts with all-or-nothing multi-transfer application.
// Concurrent Apply calls against the same accounts are linearized by the
// ledger's serialization of atomic units.
type Ledger struct {
	mtx   sync.RWMutex
	accts map[escrow.AccountID]*Account
	log   escrow.Logger
}

// New constructs a Ledger.
func New(log escrow.Logger) *Ledger {
	return &Ledger{
		accts: make(map[escrow.AccountID]*Account),
		log:   log,
	}
}

// Account retrieves a copy of the account.
func (l *Ledger) Account(id escrow.AccountID) (Account, error) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	acct, found := l.accts[id]
	if !found {
		return Account{}, escrow.NewError(escrow.ErrAccountNotFound, id.String())
	}
	return *acct, nil
}

// Exists indicates whether an account with the given ID exists.
func (l *Ledger) Exists(id escrow.AccountID) bool {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	_, found := l.accts[id]
	return found
}

// Balance retrieves the account's balance. An unknown account is an error,
// not a zero balance.
func (l *Ledger) Balance(id escrow.AccountID) (uint64, error) {
	acct, err := l.Account(id)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// OpenAccount creates a new empty account outside of any Tx. It is intended
// for seeding party accounts; engine-controlled accounts are opened inside
// the atomic unit that funds them.
func (l *Ledger) OpenAccount(id escrow.AccountID, asset escrow.AssetID, authority escrow.AccountID) error {
	return l.Apply(func(tx *Tx) error {
		return tx.Open(id, asset, authority)
	})
}

// Deposit credits an existing account, modeling an inbound transfer from
// outside the engine's view of the ledger.
func (l *Ledger) Deposit(id escrow.AccountID, amount uint64) error {
	return l.Apply(func(tx *Tx) error {
		return tx.credit(id, amount)
	})
}

// Apply runs f against a Tx staged on the current ledger state and commits
// the staged operations if and only if f returns nil. The entire unit is
// executed under the ledger lock: no partial effects are ever observable,
// and no other unit interleaves.
func (l *Ledger) Apply(f func(*Tx) error) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	tx := &Tx{
		ledger: l,
		staged: make(map[escrow.AccountID]*stagedAccount),
	}
	if err := f(tx); err != nil {
		l.log.Tracef("atomic unit discarded: %v", err)
		return err
	}
	tx.commitLocked()
	return nil
}

type stagedAccount struct {
	acct    *Account
	deleted bool
}

// Tx is a staged bundle of ledger operations. All operations validate
// against the staged view, so a Tx observes its own effects. Tx is only
// valid within the Apply closure that created it.
type Tx struct {
	ledger *Ledger
	staged map[escrow.AccountID]*stagedAccount
}

// account returns the staged entry for the ID, pulling a copy from the
// committed state on first touch.
func (tx *Tx) account(id escrow.AccountID) (*stagedAccount, error) {
	if sa, found := tx.staged[id]; found {
		if sa.deleted {
			return nil, escrow.NewError(escrow.ErrAccountNotFound, id.String())
		}
		return sa, nil
	}
	acct, found := tx.ledger.accts[id]
	if !found {
		return nil, escrow.NewError(escrow.ErrAccountNotFound, id.String())
	}
	cp := *acct
	sa := &stagedAccount{acct: &cp}
	tx.staged[id] = sa
	return sa, nil
}

// Open stages creation of a new empty account.
func (tx *Tx) Open(id escrow.AccountID, asset escrow.AssetID, authority escrow.AccountID) error {
	if sa, found := tx.staged[id]; found && !sa.deleted {
		return escrow.NewError(escrow.ErrAccountExists, id.String())
	} else if !found {
		if _, exists := tx.ledger.accts[id]; exists {
			return escrow.NewError(escrow.ErrAccountExists, id.String())
		}
	}
	tx.staged[id] = &stagedAccount{acct: &Account{
		ID:        id,
		Asset:     asset,
		Authority: authority,
	}}
	return nil
}

// Transfer stages a balance movement. The debit must be authorized by the
// source account's recorded authority, and both accounts must hold the same
// asset.
func (tx *Tx) Transfer(from, to escrow.AccountID, amount uint64, authority escrow.AccountID) error {
	src, err := tx.account(from)
	if err != nil {
		return err
	}
	dst, err := tx.account(to)
	if err != nil {
		return err
	}
	if src.acct.Authority != authority {
		return escrow.NewError(escrow.ErrUnauthorized,
			fmt.Sprintf("authority %s cannot debit account %s", authority, from))
	}
	if src.acct.Asset != dst.acct.Asset {
		return escrow.NewError(escrow.ErrAssetMismatch,
			fmt.Sprintf("%s -> %s", src.acct.Asset, dst.acct.Asset))
	}
	if src.acct.Balance < amount {
		return escrow.NewError(escrow.ErrInsufficientBalance,
			fmt.Sprintf("account %s holds %d, transfer of %d requested", from, src.acct.Balance, amount))
	}
	src.acct.Balance -= amount
	dst.acct.Balance += amount
	return nil
}

// Close stages removal of an account, moving any residual balance to dest.
// The close must be authorized by the account's recorded authority. Closing
// reclaims the account's storage, so a closed account cannot be transferred
// against again.
func (tx *Tx) Close(id escrow.AccountID, dest escrow.AccountID, authority escrow.AccountID) error {
	sa, err := tx.account(id)
	if err != nil {
		return err
	}
	if sa.acct.Authority != authority {
		return escrow.NewError(escrow.ErrUnauthorized,
			fmt.Sprintf("authority %s cannot close account %s", authority, id))
	}
	if sa.acct.Balance > 0 {
		if err := tx.Transfer(id, dest, sa.acct.Balance, authority); err != nil {
			return err
		}
	}
	sa.deleted = true
	return nil
}

func (tx *Tx) credit(id escrow.AccountID, amount uint64) error {
	sa, err := tx.account(id)
	if err != nil {
		return err
	}
	sa.acct.Balance += amount
	return nil
}

// commitLocked writes the staged view back to the committed state. The
// ledger mutex must be held.
func (tx *Tx) commitLocked() {
	for id, sa := range tx.staged {
		if sa.deleted {
			delete(tx.ledger.accts, id)
			continue
		}
		tx.ledger.accts[id] = sa.acct
	}
}
