// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtutil

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/davecgh/go-spew/spew"
)

// MaxFeeRate is the highest fee rate Extract accepts, 25,000 sat/vb.
var MaxFeeRate = btcunit.NewSatPerVByte(25_000, btcunit.NewVByte(1))

// Extract returns the final transaction of a complete packet after checking
// that every input value is known, the outputs don't exceed the inputs and
// the fee rate is below MaxFeeRate.
func Extract(p *psbt.Packet) (*wire.MsgTx, error) {
	in, err := inputTotal(p)
	if err != nil {
		return nil, err
	}

	out := outputTotal(p)
	if out > in {
		return nil, &SendingTooMuchError{Inputs: in, Outputs: out}
	}

	tx, err := ExtractUnchecked(p)
	if err != nil {
		return nil, err
	}

	vsize := btcunit.TxWeight(tx).VSize()
	rate := btcunit.NewSatPerVByte(in-out, btcunit.NewVByte(vsize))
	if rate.GreaterThan(MaxFeeRate) {
		return nil, &AbsurdFeeRateError{FeeRate: rate}
	}

	return tx, nil
}

// ExtractUnchecked returns the final transaction of a complete packet
// without any fee checks.
func ExtractUnchecked(p *psbt.Packet) (*wire.MsgTx, error) {
	tx, err := psbt.Extract(p)
	if err != nil {
		return nil, MapError(err)
	}

	log.Tracef("Extracted tx %v: %v", tx.TxHash(), newLogClosure(
		func() string {
			return spew.Sdump(tx)
		}),
	)

	return tx, nil
}

// Decode parses a base64 encoded packet.
func Decode(b64 string) (*psbt.Packet, error) {
	p, err := psbt.NewFromRawBytes(
		strings.NewReader(strings.TrimSpace(b64)), true,
	)
	if err != nil {
		return nil, MapError(err)
	}

	return p, nil
}

// Encode returns the base64 encoding of a packet.
func Encode(p *psbt.Packet) (string, error) {
	s, err := p.B64Encode()
	if err != nil {
		return "", MapError(err)
	}

	return s, nil
}

// jsonInput is the debug view of a PSBT input.
type jsonInput struct {
	PreviousOutPoint string   `json:"previous_outpoint"`
	Sequence         uint32   `json:"sequence"`
	Value            *int64   `json:"value,omitempty"`
	PkScript         string   `json:"pk_script,omitempty"`
	PartialSigs      int      `json:"partial_sigs"`
	SighashType      uint32   `json:"sighash_type,omitempty"`
	Derivations      []string `json:"derivations,omitempty"`
	Finalized        bool     `json:"finalized"`
}

// jsonOutput is the debug view of a PSBT output.
type jsonOutput struct {
	Value       int64    `json:"value"`
	PkScript    string   `json:"pk_script"`
	Derivations []string `json:"derivations,omitempty"`
}

// jsonPacket is the debug view of a PSBT.
type jsonPacket struct {
	Txid     string       `json:"txid"`
	Version  int32        `json:"version"`
	LockTime uint32       `json:"lock_time"`
	Inputs   []jsonInput  `json:"inputs"`
	Outputs  []jsonOutput `json:"outputs"`
	Fee      *int64       `json:"fee,omitempty"`
	FeeRate  *float64     `json:"fee_rate,omitempty"`
	Complete bool         `json:"complete"`
}

// JSONSerialize renders an indented JSON view of a packet for debugging. It
// isn't a serialization format and can't be parsed back.
func JSONSerialize(p *psbt.Packet) (string, error) {
	tx := p.UnsignedTx
	view := jsonPacket{
		Txid:     tx.TxHash().String(),
		Version:  tx.Version,
		LockTime: tx.LockTime,
		Complete: p.IsComplete(),
	}

	for i, txIn := range tx.TxIn {
		in := jsonInput{
			PreviousOutPoint: txIn.PreviousOutPoint.String(),
			Sequence:         txIn.Sequence,
		}

		if prev, ok := InputValue(p, i); ok {
			value := prev.Value
			in.Value = &value
			in.PkScript = hex.EncodeToString(prev.PkScript)
		}

		if i < len(p.Inputs) {
			pIn := &p.Inputs[i]
			in.PartialSigs = len(pIn.PartialSigs)
			in.SighashType = uint32(pIn.SighashType)
			in.Finalized = len(pIn.FinalScriptSig) > 0 ||
				len(pIn.FinalScriptWitness) > 0

			for _, d := range pIn.Bip32Derivation {
				in.Derivations = append(
					in.Derivations, formatDerivation(
						d.MasterKeyFingerprint,
						d.Bip32Path,
					),
				)
			}

			for _, d := range pIn.TaprootBip32Derivation {
				in.Derivations = append(
					in.Derivations, formatDerivation(
						d.MasterKeyFingerprint,
						d.Bip32Path,
					),
				)
			}
		}

		view.Inputs = append(view.Inputs, in)
	}

	for i, txOut := range tx.TxOut {
		out := jsonOutput{
			Value:    txOut.Value,
			PkScript: hex.EncodeToString(txOut.PkScript),
		}

		if i < len(p.Outputs) {
			for _, d := range p.Outputs[i].Bip32Derivation {
				out.Derivations = append(
					out.Derivations, formatDerivation(
						d.MasterKeyFingerprint,
						d.Bip32Path,
					),
				)
			}

			for _, d := range p.Outputs[i].TaprootBip32Derivation {
				out.Derivations = append(
					out.Derivations, formatDerivation(
						d.MasterKeyFingerprint,
						d.Bip32Path,
					),
				)
			}
		}

		view.Outputs = append(view.Outputs, out)
	}

	FeeAmount(p).WhenSome(func(fee btcutil.Amount) {
		sats := int64(fee)
		view.Fee = &sats
	})
	FeeRateFloat(p).WhenSome(func(rate float64) {
		view.FeeRate = &rate
	})

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(view); err != nil {
		return "", err
	}

	return strings.TrimSpace(buf.String()), nil
}

// formatDerivation renders a fingerprint and path as [fingerprint]/a/b'/c.
func formatDerivation(fingerprint uint32, path []uint32) string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(hex.EncodeToString([]byte{
		byte(fingerprint), byte(fingerprint >> 8),
		byte(fingerprint >> 16), byte(fingerprint >> 24),
	}))
	sb.WriteString("]")

	for _, idx := range path {
		sb.WriteString("/")
		if idx >= hdkeychain.HardenedKeyStart {
			sb.WriteString(strconv.FormatUint(
				uint64(idx-hdkeychain.HardenedKeyStart), 10,
			))
			sb.WriteString("'")

			continue
		}

		sb.WriteString(strconv.FormatUint(uint64(idx), 10))
	}

	return sb.String()
}
