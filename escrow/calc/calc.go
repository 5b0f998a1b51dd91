// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package calc

import (
	"math"

	"escrowmarket.org/escrowd/escrow"
)

// Fee computes the protocol fee and the seller's proceeds for a sale at the
// given price, fee = floor(price * feeBps / 10_000). The multiplication is
// checked; a price large enough to wrap 64 bits fails with ErrOverflow and
// no transfers may occur. fee + sellerAmt == price always holds on success.
func Fee(price, feeBps uint64) (fee, sellerAmt uint64, err error) {
	if feeBps != 0 && price > math.MaxUint64/feeBps {
		return 0, 0, escrow.ErrOverflow
	}
	fee = price * feeBps / escrow.FeeDivisor
	// fee <= price for any feeBps <= FeeDivisor, but keep the subtraction
	// checked for pathological test configurations.
	if fee > price {
		return 0, 0, escrow.ErrOverflow
	}
	return fee, price - fee, nil
}
