// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package auth validates that a caller is entitled to perform a settlement
// operation. Identity verification itself (signatures) is the transport's
// concern; the checker only applies the engine's authorization rules to the
// caller identity it is handed.
package auth

import (
	"fmt"
	"time"

	"escrowmarket.org/escrowd/escrow"
)

// Checker applies the engine's authorization rules. The administrator
// identity is fixed at construction.
type Checker struct {
	admin escrow.AccountID
}

// NewChecker constructs a Checker with the given administrator identity.
func NewChecker(admin escrow.AccountID) *Checker {
	return &Checker{admin: admin}
}

// SellerOnly passes only the listing's seller.
func (c *Checker) SellerOnly(caller escrow.AccountID, l *escrow.Listing) error {
	if caller != l.Seller {
		return escrow.NewError(escrow.ErrUnauthorized,
			fmt.Sprintf("caller %s is not the seller of listing %s", caller, l.ID()))
	}
	return nil
}

// CancelAuthority passes the listing's seller at any time, and any caller
// once now is strictly after the listing's expiry. Expiry gates who may
// cancel; it never changes the listing's state by itself.
func (c *Checker) CancelAuthority(caller escrow.AccountID, l *escrow.Listing, now time.Time) error {
	if caller == l.Seller {
		return nil
	}
	if now.Unix() > l.Expiry {
		log.Debugf("permissionless cancel of expired listing %s by %s", l.ID(), caller)
		return nil
	}
	return escrow.NewError(escrow.ErrUnauthorized,
		fmt.Sprintf("caller %s is neither seller nor past listing expiry %d", caller, l.Expiry))
}

// AdminOnly passes only the fixed administrator identity.
func (c *Checker) AdminOnly(caller escrow.AccountID) error {
	if caller != c.admin {
		return escrow.NewError(escrow.ErrUnauthorized,
			fmt.Sprintf("caller %s is not the fee administrator", caller))
	}
	return nil
}
