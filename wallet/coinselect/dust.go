package coinselect

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
)

// DustThreshold returns the smallest value an output paying to pkScript may
// carry under the default relay policy. Witness programs get the segwit
// discount on the spending input.
func DustThreshold(pkScript []byte) btcutil.Amount {
	return btcutil.Amount(mempool.GetDustThreshold(wire.NewTxOut(0, pkScript)))
}

// IsDust reports whether an output is below the dust threshold of its
// script. Null data outputs are never dust.
func IsDust(txOut *wire.TxOut) bool {
	return txrules.IsDustOutput(txOut, txrules.DefaultRelayFeePerKb)
}
