// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import "escrowmarket.org/escrowd/escrow/encode"

// Derivation seed tags. The tags namespace the derived identifiers so that a
// listing ID, its custody sub-account, and the fee vault can never collide.
const (
	listingTag           = "listing"
	custodyTag           = "custody"
	feeVaultTag          = "fee_vault"
	feeVaultAuthorityTag = "fee_vault_authority"
)

// FeeBps is the protocol fee rate skimmed from every completed sale, in
// basis points. Fixed policy, not a deployment parameter.
const FeeBps uint64 = 100 // 1%

// FeeDivisor converts basis points to a fraction.
const FeeDivisor uint64 = 10_000

// AdminID is the single hardcoded administrator identity permitted to drain
// the fee accumulation vault. Fixed policy, not a deployment parameter.
var AdminID = AccountID(HashFunc([]byte("escrowd-fee-admin-v0")))

// DeriveListingID derives a ListingID from its fixed seed material plus a
// disambiguating bump byte. The derived ID is also the custody authority for
// the listing's sub-account: only a holder of the ID (the settlement engine)
// can authorize transfers out of custody.
func DeriveListingID(seller AccountID, asset AssetID, nonce uint64, bump byte) ListingID {
	b := make([]byte, 0, len(listingTag)+HashSize*2+9)
	b = append(b, listingTag...)
	b = append(b, seller[:]...)
	b = append(b, asset[:]...)
	b = append(b, encode.Uint64Bytes(nonce)...)
	b = append(b, bump)
	return ListingID(HashFunc(b))
}

// CustodySubAccount derives the ledger account ID of the custody sub-account
// bound to the listing.
func CustodySubAccount(lid ListingID) AccountID {
	b := make([]byte, 0, len(custodyTag)+ListingIDSize)
	b = append(b, custodyTag...)
	b = append(b, lid[:]...)
	return AccountID(HashFunc(b))
}

// CustodyAuthority is the derived authority over a listing's custody
// sub-account.
func CustodyAuthority(lid ListingID) AccountID {
	return AccountID(lid)
}

// FeeVaultAccount is the ledger account ID of the protocol-wide fee
// accumulation vault.
func FeeVaultAccount() AccountID {
	return AccountID(HashFunc([]byte(feeVaultTag)))
}

// FeeVaultAuthority is the derived authority over the fee vault. It never
// leaves the settlement engine.
func FeeVaultAuthority() AccountID {
	return AccountID(HashFunc([]byte(feeVaultAuthorityTag)))
}
