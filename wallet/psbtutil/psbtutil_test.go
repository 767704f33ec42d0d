package psbtutil

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	p2wpkhScript = append([]byte{txscript.OP_0, txscript.OP_DATA_20},
		bytes.Repeat([]byte{0x11}, 20)...)

	destScript = append([]byte{txscript.OP_0, txscript.OP_DATA_20},
		bytes.Repeat([]byte{0x22}, 20)...)
)

// newPacket builds an unsigned packet spending one P2WPKH output per input
// value. A negative value leaves the input without utxo data.
func newPacket(t require.TestingT, inputs []int64,
	outputs ...int64) *psbt.Packet {

	tx := wire.NewMsgTx(2)
	for i := range inputs {
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
			Hash:  chainhash.Hash{0xaa},
			Index: uint32(i),
		}, nil, nil))
	}
	for _, value := range outputs {
		tx.AddTxOut(wire.NewTxOut(value, destScript))
	}

	p, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	for i, value := range inputs {
		if value < 0 {
			continue
		}

		p.Inputs[i].WitnessUtxo = wire.NewTxOut(value, p2wpkhScript)
	}

	return p
}

// finalize sets a dummy P2WPKH witness on every input.
func finalize(t require.TestingT, p *psbt.Packet) {
	var buf bytes.Buffer
	err := psbt.WriteTxWitness(&buf, wire.TxWitness{
		bytes.Repeat([]byte{0x30}, 72), bytes.Repeat([]byte{0x02}, 33),
	})
	require.NoError(t, err)

	for i := range p.Inputs {
		p.Inputs[i].FinalScriptWitness = buf.Bytes()
	}
}

// TestFeeReadBack checks the fee and the fee rate read back from an
// unsigned packet paying 2 sat/vb on a 110 vbyte estimate.
func TestFeeReadBack(t *testing.T) {
	t.Parallel()

	// Arrange: A 1-in 1-out P2WPKH packet paying 220 sat. Unsigned, it
	// measures 82 vbytes.
	p := newPacket(t, []int64{50_000}, 49_780)

	// Act: Read back the fee and the rate.
	fee := FeeAmount(p)
	rate := FeeRateFloat(p)

	// Assert: The rate is measured on the unsigned skeleton.
	require.Equal(t, btcutil.Amount(220), fee.UnwrapOr(0))
	require.InDelta(t, 2.682927, rate.UnwrapOr(0), 1e-9)
}

// TestFeeRateIgnoresFinalWitness checks the read-back of a finalized packet
// matches the rate of its unsigned form.
func TestFeeRateIgnoresFinalWitness(t *testing.T) {
	t.Parallel()

	// Arrange: The same packet before and after finalizing.
	unsigned := newPacket(t, []int64{50_000}, 49_780)
	signed := newPacket(t, []int64{50_000}, 49_780)
	finalize(t, signed)

	// Act: Read back both rates.
	unsignedRate := FeeRateFloat(unsigned).UnsafeFromSome()
	signedRate := FeeRateFloat(signed).UnsafeFromSome()

	// Assert: The final witness does not enter the measured size.
	require.Equal(t, unsignedRate, signedRate)
	require.InDelta(t, 2.682927, signedRate, 1e-9)
}

// TestFeeAmountNone checks the cases where no fee can be computed.
func TestFeeAmountNone(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		packet *psbt.Packet
	}{
		{
			name:   "missing input value",
			packet: newPacket(t, []int64{50_000, -1}, 40_000),
		},
		{
			name:   "outputs exceed inputs",
			packet: newPacket(t, []int64{50_000}, 60_000),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.True(t, FeeAmount(tc.packet).IsNone())
			require.True(t, FeeRate(tc.packet).IsNone())
		})
	}
}

// TestFeeAmountNonWitnessUtxo checks that the value of an input can come
// from its previous transaction.
func TestFeeAmountNonWitnessUtxo(t *testing.T) {
	t.Parallel()

	// Arrange: A previous transaction whose second output is spent.
	prev := wire.NewMsgTx(2)
	prev.AddTxOut(wire.NewTxOut(1_000, p2wpkhScript))
	prev.AddTxOut(wire.NewTxOut(30_000, p2wpkhScript))

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: prev.TxHash(), Index: 1,
	}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(29_000, destScript))

	p, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	p.Inputs[0].NonWitnessUtxo = prev

	// Act: Read back the fee.
	fee := FeeAmount(p)

	// Assert: The indexed output of the previous tx is used.
	require.Equal(t, btcutil.Amount(1_000), fee.UnwrapOr(0))
	require.Equal(t, int64(30_000), PrevOutputFetcher(p).FetchPrevOutput(
		tx.TxIn[0].PreviousOutPoint,
	).Value)
}

// TestExtract checks the order of the extraction checks.
func TestExtract(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		packet  func(t *testing.T) *psbt.Packet
		checkFn func(t *testing.T, tx *wire.MsgTx, err error)
	}{
		{
			name: "missing input value",
			packet: func(t *testing.T) *psbt.Packet {
				p := newPacket(t, []int64{-1}, 1_000)
				finalize(t, p)

				return p
			},
			checkFn: func(t *testing.T, _ *wire.MsgTx, err error) {
				var target *MissingInputValueError
				require.ErrorAs(t, err, &target)
				require.Equal(t, 0, target.Index)
			},
		},
		{
			name: "sending too much before incomplete",
			packet: func(t *testing.T) *psbt.Packet {
				return newPacket(t, []int64{1_000}, 2_000)
			},
			checkFn: func(t *testing.T, _ *wire.MsgTx, err error) {
				var target *SendingTooMuchError
				require.ErrorAs(t, err, &target)
				require.Equal(t, btcutil.Amount(1_000), target.Inputs)
				require.Equal(t, btcutil.Amount(2_000), target.Outputs)
			},
		},
		{
			name: "absurd fee rate",
			packet: func(t *testing.T) *psbt.Packet {
				p := newPacket(t, []int64{100_000_000}, 1_000)
				finalize(t, p)

				return p
			},
			checkFn: func(t *testing.T, _ *wire.MsgTx, err error) {
				var target *AbsurdFeeRateError
				require.ErrorAs(t, err, &target)
				require.True(t, target.FeeRate.GreaterThan(MaxFeeRate))
			},
		},
		{
			name: "incomplete",
			packet: func(t *testing.T) *psbt.Packet {
				return newPacket(t, []int64{50_000}, 49_000)
			},
			checkFn: func(t *testing.T, _ *wire.MsgTx, err error) {
				require.ErrorIs(t, err, psbt.ErrIncompletePSBT)
				require.Equal(t, KindIncomplete, KindOf(err))
			},
		},
		{
			name: "complete",
			packet: func(t *testing.T) *psbt.Packet {
				p := newPacket(t, []int64{50_000}, 49_000)
				finalize(t, p)

				return p
			},
			checkFn: func(t *testing.T, tx *wire.MsgTx, err error) {
				require.NoError(t, err)
				require.Len(t, tx.TxIn[0].Witness, 2)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tx, err := Extract(tc.packet(t))
			tc.checkFn(t, tx, err)
		})
	}
}

// TestExtractUncheckedSkipsFeeChecks checks that an absurd fee passes the
// unchecked extraction.
func TestExtractUncheckedSkipsFeeChecks(t *testing.T) {
	t.Parallel()

	p := newPacket(t, []int64{100_000_000}, 1_000)
	finalize(t, p)

	tx, err := ExtractUnchecked(p)
	require.NoError(t, err)
	require.Equal(t, p.UnsignedTx.TxHash(), tx.TxHash())
}

// TestMapError checks the classification of psbt package errors.
func TestMapError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		err  error
		kind ErrorKind
	}{
		{psbt.ErrInvalidMagicBytes, KindInvalidMagic},
		{psbt.ErrInvalidPsbtFormat, KindInvalidFormat},
		{psbt.ErrDuplicateKey, KindDuplicateKey},
		{psbt.ErrInvalidKeyData, KindInvalidKeyData},
		{psbt.ErrInvalidPrevOutNonWitnessTransaction, KindInvalidPrevOut},
		{psbt.ErrInvalidSignatureForInput, KindInvalidSignature},
		{psbt.ErrInputAlreadyFinalized, KindAlreadyFinalized},
		{psbt.ErrIncompletePSBT, KindIncomplete},
		{psbt.ErrNotFinalizable, KindNotFinalizable},
		{psbt.ErrInvalidSigHashFlags, KindInvalidSighash},
		{psbt.ErrUnsupportedScriptType, KindUnsupportedScript},
		{
			fmt.Errorf("wrapped: %w", psbt.ErrNotFinalizable),
			KindNotFinalizable,
		},
		{errors.New("boom"), KindOther},
	}

	for _, tc := range testCases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			t.Parallel()

			mapped := MapError(tc.err)
			require.Equal(t, tc.kind, KindOf(mapped))
			require.ErrorIs(t, mapped, tc.err)

			// Mapping twice is a no-op.
			require.Equal(t, mapped, MapError(mapped))
		})
	}

	require.NoError(t, MapError(nil))
}

// TestDecode checks decoding and the mapping of decode errors.
func TestDecode(t *testing.T) {
	t.Parallel()

	// Arrange: An encoded packet and a base64 string without the magic.
	p := newPacket(t, []int64{50_000}, 49_780)
	encoded, err := Encode(p)
	require.NoError(t, err)

	garbage := base64.StdEncoding.EncodeToString([]byte("hello world"))

	// Act: Decode both.
	decoded, err := Decode(encoded + "\n")
	require.NoError(t, err)

	_, garbageErr := Decode(garbage)

	// Assert: The packet is restored and the garbage is typed.
	require.Equal(t, p.UnsignedTx.TxHash(), decoded.UnsignedTx.TxHash())
	require.Equal(t, KindInvalidMagic, KindOf(garbageErr))
}

// TestJSONSerialize checks the debug view.
func TestJSONSerialize(t *testing.T) {
	t.Parallel()

	p := newPacket(t, []int64{50_000}, 49_780)
	p.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               testKey(1).PubKey().SerializeCompressed(),
		MasterKeyFingerprint: 0x04030201,
		Bip32Path:            []uint32{84 + 0x80000000, 1, 7},
	}}

	out, err := JSONSerialize(p)
	require.NoError(t, err)

	require.Contains(t, out, `"fee": 220`)
	require.Contains(t, out, `"fee_rate": 2.682927`)
	require.Contains(t, out, `"[01020304]/84'/1/7"`)
	require.Contains(t, out, `"complete": false`)
}

// testKey returns a deterministic private key.
func testKey(seed byte) *btcec.PrivateKey {
	key, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return key
}

// partialSig signs msg with key and appends SIGHASH_ALL.
func partialSig(key *btcec.PrivateKey, msg byte) *psbt.PartialSig {
	hash := chainhash.HashB([]byte{msg})
	sig := ecdsa.Sign(key, hash).Serialize()

	return &psbt.PartialSig{
		PubKey:    key.PubKey().SerializeCompressed(),
		Signature: append(sig, byte(txscript.SigHashAll)),
	}
}

// TestCombine checks the merge of two signers' packets.
func TestCombine(t *testing.T) {
	t.Parallel()

	// Arrange: Two copies of a packet, each signed by another key.
	a := newPacket(t, []int64{50_000}, 49_000)
	b := newPacket(t, []int64{50_000}, 49_000)
	a.Inputs[0].PartialSigs = []*psbt.PartialSig{partialSig(testKey(1), 1)}
	b.Inputs[0].PartialSigs = []*psbt.PartialSig{partialSig(testKey(2), 1)}
	b.Inputs[0].WitnessScript = []byte{txscript.OP_TRUE}

	// Act: Combine them.
	combined, err := Combine(a, b)
	require.NoError(t, err)

	// Assert: Both signatures are present and the arguments untouched.
	require.Len(t, combined.Inputs[0].PartialSigs, 2)
	require.Equal(t, []byte{txscript.OP_TRUE},
		combined.Inputs[0].WitnessScript)
	require.Len(t, a.Inputs[0].PartialSigs, 1)
	require.Empty(t, a.Inputs[0].WitnessScript)
}

// TestCombineErrors checks the conflicts that fail a combine.
func TestCombineErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(b *psbt.Packet)
		other   *psbt.Packet
		wantErr error
	}{
		{
			name:    "different unsigned tx",
			other:   newPacket(t, []int64{50_000}, 48_000),
			wantErr: ErrUnexpectedUnsignedTx,
		},
		{
			name: "input count",
			mutate: func(b *psbt.Packet) {
				b.Inputs = append(b.Inputs, psbt.PInput{})
			},
			wantErr: ErrInputCountMismatch,
		},
		{
			name: "output count",
			mutate: func(b *psbt.Packet) {
				b.Outputs = nil
			},
			wantErr: ErrOutputCountMismatch,
		},
		{
			name: "witness utxo",
			mutate: func(b *psbt.Packet) {
				b.Inputs[0].WitnessUtxo.Value++
			},
			wantErr: ErrWitnessUtxoMismatch,
		},
		{
			name: "sighash",
			mutate: func(b *psbt.Packet) {
				b.Inputs[0].SighashType = txscript.SigHashNone
			},
			wantErr: ErrSighashMismatch,
		},
		{
			name: "output witness script",
			mutate: func(b *psbt.Packet) {
				b.Outputs[0].WitnessScript = []byte{0x52}
			},
			wantErr: ErrWitnessScriptMismatch,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: Two packets that disagree.
			a := newPacket(t, []int64{50_000}, 49_000)
			a.Inputs[0].SighashType = txscript.SigHashAll
			a.Outputs[0].WitnessScript = []byte{0x51}

			b := tc.other
			if b == nil {
				b = newPacket(t, []int64{50_000}, 49_000)
				tc.mutate(b)
			}

			// Act: Combine both ways.
			_, errAB := Combine(a, b)
			_, errBA := Combine(b, a)

			// Assert: Both directions fail alike.
			require.ErrorIs(t, errAB, tc.wantErr)
			require.ErrorIs(t, errBA, tc.wantErr)
		})
	}

	_, err := CombineAll()
	require.ErrorIs(t, err, ErrNoPsbtsToCombine)
}

// drawPacket draws a copy of a two-input packet decorated with signatures,
// derivations and unknowns over a small key set, so two draws overlap.
func drawPacket(t *rapid.T, label string) *psbt.Packet {
	p := newPacket(t, []int64{50_000, 60_000}, 100_000)

	for i := range p.Inputs {
		in := &p.Inputs[i]
		prefix := fmt.Sprintf("%s-in%d", label, i)

		for _, seed := range rapid.SliceOfDistinct(
			rapid.ByteRange(1, 6), rapid.ID[byte],
		).Draw(t, prefix+"-sigs") {
			msg := rapid.ByteRange(0, 2).Draw(t, prefix+"-msg")
			in.PartialSigs = append(
				in.PartialSigs, partialSig(testKey(seed), msg),
			)
		}

		for _, seed := range rapid.SliceOfDistinct(
			rapid.ByteRange(1, 6), rapid.ID[byte],
		).Draw(t, prefix+"-derivs") {
			in.Bip32Derivation = append(
				in.Bip32Derivation, &psbt.Bip32Derivation{
					PubKey: testKey(seed).PubKey().
						SerializeCompressed(),
					MasterKeyFingerprint: uint32(seed),
					Bip32Path: []uint32{
						uint32(rapid.IntRange(0, 2).Draw(
							t, prefix+"-path",
						)),
					},
				},
			)
		}

		if rapid.Bool().Draw(t, prefix+"-sighash") {
			in.SighashType = txscript.SigHashAll
		}

		for _, k := range rapid.SliceOfDistinct(
			rapid.ByteRange(0, 3), rapid.ID[byte],
		).Draw(t, prefix+"-unknowns") {
			in.Unknowns = append(in.Unknowns, &psbt.Unknown{
				Key: []byte{0xfc, k},
				Value: rapid.SliceOfN(rapid.Byte(), 1, 4).Draw(
					t, prefix+"-value",
				),
			})
		}
	}

	return p
}

// TestCombineCommutative checks that the order of the arguments never
// changes the combined packet.
func TestCombineCommutative(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		a := drawPacket(t, "a")
		b := drawPacket(t, "b")

		ab, err := Combine(a, b)
		require.NoError(t, err)

		ba, err := Combine(b, a)
		require.NoError(t, err)

		abEncoded, err := Encode(ab)
		require.NoError(t, err)

		baEncoded, err := Encode(ba)
		require.NoError(t, err)

		require.Equal(t, abEncoded, baEncoded)

		// Combining with itself adds nothing.
		again, err := Combine(ab, ab)
		require.NoError(t, err)

		againEncoded, err := Encode(again)
		require.NoError(t, err)
		require.Equal(t, abEncoded, againEncoded)
	})
}
