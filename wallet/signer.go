// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/hdkeys"
	"github.com/btcsuite/descwallet/wallet/psbtutil"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// SignOptions tunes how a PSBT is signed and finalized.
type SignOptions struct {
	// InputIndices limits signing to the listed inputs. Nil signs every
	// input.
	InputIndices []int

	// AllowedSighashes are the sighash types inputs may ask for. Empty
	// means SIGHASH_ALL and SIGHASH_DEFAULT.
	AllowedSighashes []txscript.SigHashType

	// AllowAllSighashes disables the sighash check.
	AllowAllSighashes bool

	// TrustWitnessUtxo signs segwit v0 inputs that carry no previous
	// transaction.
	TrustWitnessUtxo bool

	// TryFinalize finalizes the inputs after signing.
	TryFinalize bool

	// AssumeHeight is the height finalization checks the locktime
	// against. Inputs of a transaction locked past it are not finalized.
	AssumeHeight fn.Option[uint32]
}

// DefaultSignOptions returns the options used by most callers: sign every
// input with the standard sighashes and finalize.
func DefaultSignOptions() SignOptions {
	return SignOptions{TryFinalize: true}
}

// allowed reports whether an input may use sigHash.
func (o *SignOptions) allowed(sigHash txscript.SigHashType) bool {
	if o.AllowAllSighashes {
		return true
	}

	if len(o.AllowedSighashes) == 0 {
		return sigHash == txscript.SigHashAll ||
			sigHash == txscript.SigHashDefault
	}

	return slices.Contains(o.AllowedSighashes, sigHash)
}

// selected reports whether input i is to be signed.
func (o *SignOptions) selected(i int) bool {
	return o.InputIndices == nil || slices.Contains(o.InputIndices, i)
}

// Signer adds signatures to a PSBT.
type Signer interface {
	// SignPsbt signs the inputs it has keys for and reports whether
	// every input of the packet is finalized afterwards.
	SignPsbt(ctx context.Context, packet *psbt.Packet,
		opts SignOptions) (bool, error)
}

// KeyMapSigner signs with the secret keys of descriptors. Keys are matched
// against the BIP32 derivations of the inputs, single keys by their public
// key.
type KeyMapSigner struct {
	keys descriptor.KeyMap
}

// A compile time check to ensure that KeyMapSigner implements the interface.
var _ Signer = (*KeyMapSigner)(nil)

// NewKeyMapSigner creates a signer over the given secrets.
func NewKeyMapSigner(keys descriptor.KeyMap) *KeyMapSigner {
	return &KeyMapSigner{keys: keys}
}

// signingKey is a private key and the public key a derivation names.
type signingKey struct {
	priv *btcec.PrivateKey
	pub  []byte
}

// SignPsbt signs every selected input it has keys for. p2pkh, p2wpkh,
// p2sh-p2wpkh, wsh and sh scripts and taproot key spends are supported.
func (s *KeyMapSigner) SignPsbt(ctx context.Context, packet *psbt.Packet,
	opts SignOptions) (bool, error) {

	if len(s.keys) == 0 {
		return isFinalizedPacket(packet), nil
	}

	tx := packet.UnsignedTx
	sigHashes := txscript.NewTxSigHashes(
		tx, psbtutil.PrevOutputFetcher(packet),
	)
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return false, psbtutil.MapError(err)
	}

	for i := range tx.TxIn {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if !opts.selected(i) || isFinalizedInput(&packet.Inputs[i]) {
			continue
		}

		err := s.signInput(updater, sigHashes, i, &opts)
		if err != nil {
			return false, fmt.Errorf("input %d: %w", i, err)
		}
	}

	if !opts.TryFinalize {
		return isFinalizedPacket(packet), nil
	}

	return finalizePacket(packet, &opts)
}

// signInput signs input i with every key it has for it.
func (s *KeyMapSigner) signInput(u *psbt.Updater,
	sigHashes *txscript.TxSigHashes, i int, opts *SignOptions) error {

	packet := u.Upsbt
	in := &packet.Inputs[i]

	if txscript.IsPayToTaproot(prevPkScript(packet, i)) {
		return s.signTaproot(packet, sigHashes, i)
	}

	keys := s.findKeys(in)
	if len(keys) == 0 {
		return nil
	}

	op := packet.UnsignedTx.TxIn[i].PreviousOutPoint
	prevOut, ok := psbtutil.InputValue(packet, i)
	if !ok {
		return ErrMissingPrevOut
	}

	if in.NonWitnessUtxo != nil && in.NonWitnessUtxo.TxHash() != op.Hash {
		return &InvalidTxidError{
			InputTxid: in.NonWitnessUtxo.TxHash(),
			OutPoint:  op,
		}
	}

	witness := in.WitnessScript != nil ||
		txscript.IsWitnessProgram(prevOut.PkScript) ||
		txscript.IsWitnessProgram(in.RedeemScript)
	if witness && in.NonWitnessUtxo == nil && !opts.TrustWitnessUtxo {
		return &MissingNonWitnessUtxoError{OutPoint: op}
	}

	sigHash := in.SighashType
	if sigHash == 0 {
		sigHash = txscript.SigHashAll
	}

	// The script the signature commits to: the witness script, a nested
	// p2wpkh program, a legacy redeem script or the output script.
	subScript := prevOut.PkScript
	switch {
	case in.WitnessScript != nil:
		subScript = in.WitnessScript

	case in.RedeemScript != nil:
		subScript = in.RedeemScript
	}

	for _, key := range keys {
		var (
			sig []byte
			err error
		)
		if witness {
			sig, err = txscript.RawTxInWitnessSignature(
				packet.UnsignedTx, sigHashes, i, prevOut.Value,
				subScript, sigHash, key.priv,
			)
		} else {
			sig, err = txscript.RawTxInSignature(
				packet.UnsignedTx, i, subScript, sigHash,
				key.priv,
			)
		}
		if err != nil {
			return err
		}

		_, err = u.Sign(i, sig, key.pub, in.RedeemScript, in.WitnessScript)
		if errors.Is(err, psbt.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return psbtutil.MapError(err)
		}

		log.Debugf("Signed input %d with key %x", i, key.pub)
	}

	return nil
}

// signTaproot signs the key path of a BIP86 taproot input.
func (s *KeyMapSigner) signTaproot(packet *psbt.Packet,
	sigHashes *txscript.TxSigHashes, i int) error {

	in := &packet.Inputs[i]
	if in.TaprootKeySpendSig != nil || in.WitnessUtxo == nil {
		return nil
	}

	for _, d := range in.TaprootBip32Derivation {
		if len(d.LeafHashes) != 0 ||
			!bytes.Equal(d.XOnlyPubKey, in.TaprootInternalKey) {

			continue
		}

		priv, ok := s.derive(d.MasterKeyFingerprint, d.Bip32Path)
		if !ok || !bytes.Equal(
			schnorr.SerializePubKey(priv.PubKey()), d.XOnlyPubKey,
		) {

			continue
		}

		sigHash := in.SighashType
		sig, err := txscript.RawTxInTaprootSignature(
			packet.UnsignedTx, sigHashes, i, in.WitnessUtxo.Value,
			in.WitnessUtxo.PkScript, nil, sigHash, priv,
		)
		if err != nil {
			return err
		}

		in.TaprootKeySpendSig = sig
		log.Debugf("Signed taproot input %d", i)

		return nil
	}

	return nil
}

// findKeys returns the keys the signer has for the derivations of an input.
func (s *KeyMapSigner) findKeys(in *psbt.PInput) []signingKey {
	var keys []signingKey
	for _, d := range in.Bip32Derivation {
		priv, ok := s.derive(d.MasterKeyFingerprint, d.Bip32Path)
		if !ok {
			priv, ok = s.single(d.PubKey)
		}
		if !ok || !bytes.Equal(
			priv.PubKey().SerializeCompressed(), d.PubKey,
		) {

			continue
		}

		keys = append(keys, signingKey{priv: priv, pub: d.PubKey})
	}

	return keys
}

// derive finds an extended secret whose origin is a prefix of the given
// derivation and derives the rest of the path.
func (s *KeyMapSigner) derive(fingerprint uint32,
	path []uint32) (*btcec.PrivateKey, bool) {

	for _, secret := range s.keys {
		xprv, ok := secret.(*descriptor.XPrv)
		if !ok {
			continue
		}

		origin := xprv.Origin()
		base := hdkeys.DerivationPath(nil)
		keyFingerprint := xprv.ExtendedKey().Fingerprint()
		if origin != nil {
			base = origin.Path
			keyFingerprint = origin.Fingerprint
		}

		if keyFingerprint != fingerprint || len(path) < len(base) ||
			!base.Equal(path[:len(base)]) {

			continue
		}

		child, err := xprv.ExtendedKey().Derive(path[len(base):])
		if err != nil {
			continue
		}

		priv, err := child.ECPrivKey()
		if err != nil {
			continue
		}

		return priv, true
	}

	return nil, false
}

// single finds a single secret key for a serialized public key.
func (s *KeyMapSigner) single(pub []byte) (*btcec.PrivateKey, bool) {
	for _, secret := range s.keys {
		single, ok := secret.(*descriptor.SingleSecret)
		if !ok {
			continue
		}

		if bytes.Equal(single.PrivKey().PubKey().SerializeCompressed(), pub) {
			return single.PrivKey(), true
		}
	}

	return nil, false
}

// prevPkScript returns the output script an input spends, nil when the
// input carries no previous output.
func prevPkScript(packet *psbt.Packet, i int) []byte {
	prevOut, ok := psbtutil.InputValue(packet, i)
	if !ok {
		return nil
	}

	return prevOut.PkScript
}

// isFinalizedInput reports whether an input has its final scripts.
func isFinalizedInput(in *psbt.PInput) bool {
	return len(in.FinalScriptSig) > 0 || len(in.FinalScriptWitness) > 0
}

// isFinalizedPacket reports whether every input is finalized.
func isFinalizedPacket(packet *psbt.Packet) bool {
	for i := range packet.Inputs {
		if !isFinalizedInput(&packet.Inputs[i]) {
			return false
		}
	}

	return true
}

// finalizePacket finalizes every input it can and reports whether all of
// them are finalized. Nothing is finalized while the locktime is past the
// assumed height.
func finalizePacket(packet *psbt.Packet, opts *SignOptions) (bool, error) {
	tx := packet.UnsignedTx
	if locked(tx, opts.AssumeHeight) {
		log.Debugf("Not finalizing: locktime %d past height %v",
			tx.LockTime, opts.AssumeHeight)

		return false, nil
	}

	all := true
	for i := range tx.TxIn {
		ok, err := psbt.MaybeFinalize(packet, i)
		switch {
		case errors.Is(err, psbt.ErrNotFinalizable):
			all = false

		case err != nil:
			return false, fmt.Errorf("finalize input %d: %w", i,
				psbtutil.MapError(err))

		case !ok:
			all = false
		}
	}

	return all, nil
}

// locked reports whether a block height locktime is past the assumed
// height.
func locked(tx *wire.MsgTx, height fn.Option[uint32]) bool {
	if tx.LockTime == 0 || tx.LockTime >= txscript.LockTimeThreshold {
		return false
	}

	return fn.MapOptionZ(height, func(h uint32) bool {
		return tx.LockTime > h
	})
}
