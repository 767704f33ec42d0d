// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/wallet/psbtutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// verifyTx runs the script engine over every input of a signed packet.
func verifyTx(t *testing.T, packet *psbt.Packet) {
	t.Helper()

	tx, err := psbt.Extract(packet)
	require.NoError(t, err)

	fetcher := psbtutil.PrevOutputFetcher(packet)
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, txIn := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		require.NotNil(t, prevOut)

		engine, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, hashes, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, engine.Execute(), "input %d", i)
	}
}

// TestSignTemplates checks that the wallet signs and finalizes spends of
// every standard single key template.
func TestSignTemplates(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		tmpl descriptor.Template
	}{
		{name: "p2pkh", tmpl: descriptor.TemplateBIP44},
		{name: "p2sh-p2wpkh", tmpl: descriptor.TemplateBIP49},
		{name: "p2wpkh", tmpl: descriptor.TemplateBIP84},
		{name: "p2tr", tmpl: descriptor.TemplateBIP86},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: A funded wallet and a payment with change.
			w := newTemplateWallet(t, tc.tmpl)
			fundWallet(t, w, 50_000)
			fundWallet(t, w, 30_000)

			packet, err := NewTxBuilder().
				AddRecipient(foreignScript, 60_000).
				Finish(w)
			require.NoError(t, err)

			// Act: Sign it.
			finalized, err := w.Sign(
				context.Background(), packet,
				DefaultSignOptions(),
			)
			require.NoError(t, err)

			// Assert: Every input is finalized and valid.
			require.True(t, finalized)
			verifyTx(t, packet)
		})
	}
}

// TestSignOptions checks how the sign options gate signing.
func TestSignOptions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string

		// prepare adjusts the unsigned packet.
		prepare func(p *psbt.Packet)

		opts      SignOptions
		finalized bool
		err       error
	}{
		{
			name:      "defaults",
			prepare:   func(*psbt.Packet) {},
			opts:      DefaultSignOptions(),
			finalized: true,
		},
		{
			name: "non-standard sighash",
			prepare: func(p *psbt.Packet) {
				p.Inputs[0].SighashType = txscript.SigHashNone
			},
			opts: DefaultSignOptions(),
			err:  ErrNonStandardSighash,
		},
		{
			name: "allowed sighash",
			prepare: func(p *psbt.Packet) {
				p.Inputs[0].SighashType = txscript.SigHashSingle
			},
			opts: SignOptions{
				AllowedSighashes: []txscript.SigHashType{
					txscript.SigHashSingle,
				},
				TryFinalize: true,
			},
			finalized: true,
		},
		{
			name:    "input index out of range",
			prepare: func(*psbt.Packet) {},
			opts: SignOptions{
				InputIndices: []int{5},
			},
			err: ErrInputIndexOutOfRange,
		},
		{
			name: "witness utxo not trusted",
			prepare: func(p *psbt.Packet) {
				p.Inputs[0].NonWitnessUtxo = nil
			},
			opts: DefaultSignOptions(),
			err:  ErrMissingNonWitnessUtxo,
		},
		{
			name: "witness utxo trusted",
			prepare: func(p *psbt.Packet) {
				p.Inputs[0].NonWitnessUtxo = nil
			},
			opts: SignOptions{
				TrustWitnessUtxo: true,
				TryFinalize:      true,
			},
			finalized: true,
		},
		{
			name:    "no finalize",
			prepare: func(*psbt.Packet) {},
			opts:    SignOptions{},
		},
		{
			name:    "locktime past assumed height",
			prepare: func(*psbt.Packet) {},
			opts: SignOptions{
				TryFinalize:  true,
				AssumeHeight: fn.Some[uint32](testHeight - 1),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: A funded p2wpkh wallet and an unsigned
			// drain.
			w := newTestWallet(t)
			fundWallet(t, w, 50_000)

			packet, err := NewTxBuilder().
				DrainWallet().
				DrainTo(foreignScript).
				Finish(w)
			require.NoError(t, err)
			tc.prepare(packet)

			// Act: Sign it.
			finalized, err := w.Sign(
				context.Background(), packet, tc.opts,
			)

			// Assert: The outcome matches the options.
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.finalized, finalized)

			if finalized {
				verifyTx(t, packet)
				return
			}

			// An unfinalized input still carries the signature.
			require.Len(t, packet.Inputs[0].PartialSigs, 1)
		})
	}
}

// TestFinalizeAfterSign checks that a packet signed without finalizing can
// be finalized later.
func TestFinalizeAfterSign(t *testing.T) {
	t.Parallel()

	// Arrange: A signed but unfinalized drain.
	w := newTestWallet(t)
	fundWallet(t, w, 50_000)

	packet, err := NewTxBuilder().
		DrainWallet().
		DrainTo(foreignScript).
		Finish(w)
	require.NoError(t, err)

	finalized, err := w.Sign(context.Background(), packet, SignOptions{})
	require.NoError(t, err)
	require.False(t, finalized)

	// Act: Finalize at a height the locktime allows.
	finalized, err = w.Finalize(packet, SignOptions{
		AssumeHeight: fn.Some[uint32](testHeight),
	})

	// Assert: The packet is final and valid.
	require.NoError(t, err)
	require.True(t, finalized)
	verifyTx(t, packet)
}

// TestSignWithCustomSigner checks that a configured signer receives the
// packet with the wallet data filled in.
func TestSignWithCustomSigner(t *testing.T) {
	t.Parallel()

	// Arrange: A wallet with a mock signer.
	signer := &mockSigner{}
	w := newTestWallet(t, WithSigner(signer))
	fundWallet(t, w, 50_000)

	packet, err := NewTxBuilder().
		DrainWallet().
		DrainTo(foreignScript).
		Finish(w)
	require.NoError(t, err)

	// Strip the input data the wallet is expected to restore.
	packet.Inputs[0] = psbt.PInput{}

	errSigner := errors.New("hardware wallet unplugged")
	signer.On("SignPsbt", mock.Anything, mock.MatchedBy(
		func(p *psbt.Packet) bool {
			in := p.Inputs[0]
			return in.WitnessUtxo != nil &&
				len(in.Bip32Derivation) == 1
		},
	), mock.Anything).Return(false, errSigner).Once()

	// Act: Sign.
	_, err = w.Sign(context.Background(), packet, DefaultSignOptions())

	// Assert: The signer error is returned unchanged.
	require.ErrorIs(t, err, errSigner)
	signer.AssertExpectations(t)
}

// TestSignForeignInputUntouched checks that inputs without known keys are
// left unsigned.
func TestSignForeignInputUntouched(t *testing.T) {
	t.Parallel()

	// Arrange: A payment spending a wallet output and a foreign one.
	w := newTestWallet(t)
	fundWallet(t, w, 50_000)

	prevTx := fundingTx(foreignScript, 30_000)
	op := wire.OutPoint{Hash: prevTx.TxHash(), Index: 0}

	b, err := NewTxBuilder().
		AddForeignUtxo(op, &psbt.PInput{NonWitnessUtxo: prevTx}, 108)
	require.NoError(t, err)

	packet, err := b.AddRecipient(foreignScript, 60_000).Finish(w)
	require.NoError(t, err)

	// Act: Sign.
	finalized, err := w.Sign(
		context.Background(), packet, DefaultSignOptions(),
	)

	// Assert: Only the wallet input is finalized.
	require.NoError(t, err)
	require.False(t, finalized)

	for i, txIn := range packet.UnsignedTx.TxIn {
		if txIn.PreviousOutPoint == op {
			require.Empty(t, packet.Inputs[i].FinalScriptWitness)
			continue
		}

		require.NotEmpty(t, packet.Inputs[i].FinalScriptWitness)
	}
}
