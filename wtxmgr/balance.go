package wtxmgr

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// Balance is the wallet balance split by how spendable the outputs are.
type Balance struct {
	// Immature is the value of coinbase outputs that are not yet mature.
	Immature btcutil.Amount

	// TrustedPending is the value of unconfirmed outputs the wallet
	// trusts, such as its own change.
	TrustedPending btcutil.Amount

	// UntrustedPending is the value of other unconfirmed outputs.
	UntrustedPending btcutil.Amount

	// Confirmed is the value of confirmed outputs.
	Confirmed btcutil.Amount
}

// TrustedSpendable returns the value that can be spent without relying on
// third parties.
func (b Balance) TrustedSpendable() btcutil.Amount {
	return b.Confirmed + b.TrustedPending
}

// Total returns the sum of all parts.
func (b Balance) Total() btcutil.Amount {
	return b.Immature + b.TrustedPending + b.UntrustedPending + b.Confirmed
}

// String returns a one line summary.
func (b Balance) String() string {
	return fmt.Sprintf("confirmed=%v trusted_pending=%v "+
		"untrusted_pending=%v immature=%v", b.Confirmed, b.TrustedPending,
		b.UntrustedPending, b.Immature)
}

// TrustFunc reports whether an unconfirmed output is trusted.
type TrustFunc func(out *LocalOutput) bool

// Balance sums the unspent outputs at the given tip.
func (s *Store) Balance(tip int32, trusted TrustFunc) Balance {
	var b Balance
	for _, out := range s.Unspent() {
		switch {
		case !out.IsMature(tip):
			b.Immature += out.Amount()

		case out.ChainPosition.IsConfirmed():
			b.Confirmed += out.Amount()

		case trusted != nil && trusted(&out):
			b.TrustedPending += out.Amount()

		default:
			b.UntrustedPending += out.Amount()
		}
	}

	return b
}
