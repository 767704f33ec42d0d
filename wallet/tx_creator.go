// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/policy"
	"github.com/btcsuite/descwallet/wallet/coinselect"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultTxVersion is the version of built transactions.
	DefaultTxVersion = 2

	// sequenceRbf is the default sequence of an input signalling
	// replaceability.
	sequenceRbf = wire.MaxTxInSequenceNum - 2

	// sequenceLockTimeNoRbf enables the locktime without signalling
	// replaceability.
	sequenceLockTimeNoRbf = wire.MaxTxInSequenceNum - 1
)

// ChangeSpendPolicy decides whether outputs of the internal keychain may be
// spent.
type ChangeSpendPolicy uint8

const (
	// ChangeAllowed spends change and external outputs alike.
	ChangeAllowed ChangeSpendPolicy = iota

	// OnlyChange only spends change outputs.
	OnlyChange

	// ChangeForbidden never spends change outputs.
	ChangeForbidden
)

// String returns the name of the policy.
func (c ChangeSpendPolicy) String() string {
	switch c {
	case ChangeAllowed:
		return "change_allowed"
	case OnlyChange:
		return "only_change"
	case ChangeForbidden:
		return "change_forbidden"
	default:
		return fmt.Sprintf("ChangeSpendPolicy(%d)", uint8(c))
	}
}

// allows reports whether an output of keychain kind may be spent.
func (c ChangeSpendPolicy) allows(kind descriptor.KeychainKind) bool {
	switch c {
	case OnlyChange:
		return kind == descriptor.KeychainInternal
	case ChangeForbidden:
		return kind != descriptor.KeychainInternal
	default:
		return true
	}
}

// TxOrdering decides the order of the inputs and outputs of a built
// transaction.
type TxOrdering uint8

const (
	// OrderingShuffle randomizes inputs and outputs.
	OrderingShuffle TxOrdering = iota

	// OrderingUntouched keeps inputs in selection order and outputs in
	// the order the recipients were added, change last.
	OrderingUntouched

	// OrderingBIP69 sorts inputs and outputs lexicographically.
	OrderingBIP69
)

// Recipient is an output the transaction pays.
type Recipient struct {
	// PkScript is the output script.
	PkScript []byte

	// Amount is the value paid.
	Amount btcutil.Amount
}

// TxCreator provides an interface for building transactions. The result is
// an unsigned PSBT carrying everything a signer needs.
type TxCreator interface {
	// CreateTx builds the transaction a TxBuilder describes.
	CreateTx(b TxBuilder) (*psbt.Packet, error)
}

// A compile time check to ensure that Wallet implements the interface.
var _ TxCreator = (*Wallet)(nil)

// TxBuilder describes a transaction to build. It is a value: every setter
// returns a modified copy and leaves the receiver untouched, so a builder
// can be shared and extended freely.
//
// The zero value pays nobody. A typical payment looks like:
//
//	packet, err := wallet.NewTxBuilder().
//		AddRecipient(pkScript, 50_000).
//		FeeRate(btcunit.NewSatPerVByte(2, btcunit.NewVByte(1))).
//		EnableRbf().
//		Finish(w)
//
// Draining the whole wallet to an address:
//
//	packet, err := wallet.NewTxBuilder().
//		DrainWallet().
//		DrainTo(pkScript).
//		Finish(w)
type TxBuilder struct {
	recipients []Recipient

	// utxos are wallet outputs that must be spent.
	utxos []wire.OutPoint

	// foreign are outputs the wallet doesn't own that must be spent.
	foreign []coinselect.WeightedUtxo

	unspendable []wire.OutPoint

	manuallySelectedOnly bool
	onlyWitnessUtxo      bool
	changePolicy         ChangeSpendPolicy

	feeRate     fn.Option[btcunit.SatPerVByte]
	feeAbsolute fn.Option[btcutil.Amount]

	drainWallet bool
	drainTo     []byte

	// rbf is the requested sequence. rbfDefault marks the sequence of
	// EnableRbf, which gives way to a policy CSV.
	rbf        fn.Option[uint32]
	rbfDefault bool

	lockTime      fn.Option[uint32]
	currentHeight fn.Option[uint32]
	version       fn.Option[int32]

	paths map[descriptor.KeychainKind]policy.PathSelection

	ordering  TxOrdering
	algorithm coinselect.Algorithm
	allowDust bool
	sighash   fn.Option[txscript.SigHashType]

	// minFee is the lowest acceptable fee of a replacement.
	minFee fn.Option[btcutil.Amount]

	// replaces is the transaction a replacement conflicts with. Its
	// inputs may be spent again and its outputs may not.
	replaces fn.Option[chainhash.Hash]

	// err is the first error of a setter, reported by Finish.
	err error
}

// NewTxBuilder returns an empty builder.
func NewTxBuilder() TxBuilder {
	return TxBuilder{}
}

// AddRecipient adds an output paying amount to pkScript.
func (b TxBuilder) AddRecipient(pkScript []byte,
	amount btcutil.Amount) TxBuilder {

	b.recipients = append(slices.Clip(b.recipients), Recipient{
		PkScript: pkScript,
		Amount:   amount,
	})

	return b
}

// SetRecipients replaces the recipients.
func (b TxBuilder) SetRecipients(recipients []Recipient) TxBuilder {
	b.recipients = slices.Clone(recipients)
	return b
}

// AddUtxo makes the transaction spend a wallet output.
func (b TxBuilder) AddUtxo(op wire.OutPoint) TxBuilder {
	if slices.Contains(b.utxos, op) {
		return b
	}

	b.utxos = append(slices.Clip(b.utxos), op)

	return b
}

// AddUtxos makes the transaction spend every given wallet output.
func (b TxBuilder) AddUtxos(ops []wire.OutPoint) TxBuilder {
	for _, op := range ops {
		b = b.AddUtxo(op)
	}

	return b
}

// ManuallySelectedOnly restricts the inputs to the ones added explicitly.
func (b TxBuilder) ManuallySelectedOnly() TxBuilder {
	b.manuallySelectedOnly = true
	return b
}

// AddUnspendable keeps coin selection away from an output.
func (b TxBuilder) AddUnspendable(op wire.OutPoint) TxBuilder {
	b.unspendable = append(slices.Clip(b.unspendable), op)
	return b
}

// SetUnspendable replaces the outputs coin selection has to avoid.
func (b TxBuilder) SetUnspendable(ops []wire.OutPoint) TxBuilder {
	b.unspendable = slices.Clone(ops)
	return b
}

// AddForeignUtxo makes the transaction spend an output the wallet doesn't
// own. The PSBT input must carry the previous output, as a witness UTXO or
// as the full previous transaction. satisfactionWeight is the weight of the
// scriptSig and witness that will spend it.
func (b TxBuilder) AddForeignUtxo(op wire.OutPoint, in *psbt.PInput,
	satisfactionWeight int64) (TxBuilder, error) {

	return b.addForeignUtxo(op, in, satisfactionWeight, fn.None[uint32]())
}

// AddForeignUtxoWithSequence is AddForeignUtxo with a fixed input sequence.
func (b TxBuilder) AddForeignUtxoWithSequence(op wire.OutPoint,
	in *psbt.PInput, satisfactionWeight int64,
	sequence uint32) (TxBuilder, error) {

	return b.addForeignUtxo(op, in, satisfactionWeight, fn.Some(sequence))
}

// addForeignUtxo validates and records a foreign output.
func (b TxBuilder) addForeignUtxo(op wire.OutPoint, in *psbt.PInput,
	satisfactionWeight int64, sequence fn.Option[uint32]) (TxBuilder,
	error) {

	if in == nil || (in.WitnessUtxo == nil && in.NonWitnessUtxo == nil) {
		return b, ErrMissingUtxo
	}

	if prevTx := in.NonWitnessUtxo; prevTx != nil {
		if txid := prevTx.TxHash(); txid != op.Hash {
			return b, &InvalidTxidError{InputTxid: txid, OutPoint: op}
		}

		if int(op.Index) >= len(prevTx.TxOut) {
			return b, &InvalidOutpointError{OutPoint: op}
		}
	}

	stored := *in
	utxo := &coinselect.ForeignUtxo{
		Point:     op,
		PsbtInput: &stored,
		Sequence:  sequence,
	}

	b.foreign = append(slices.Clip(b.foreign), coinselect.WeightedUtxo{
		Utxo:               utxo,
		SatisfactionWeight: satisfactionWeight,
		Witness: in.WitnessUtxo != nil ||
			txscript.IsWitnessProgram(utxo.TxOut().PkScript),
	})

	return b, nil
}

// OnlyWitnessUtxo leaves the previous transaction out of segwit inputs.
func (b TxBuilder) OnlyWitnessUtxo() TxBuilder {
	b.onlyWitnessUtxo = true
	return b
}

// DoNotSpendChange never spends change outputs.
func (b TxBuilder) DoNotSpendChange() TxBuilder {
	b.changePolicy = ChangeForbidden
	return b
}

// OnlySpendChange only spends change outputs.
func (b TxBuilder) OnlySpendChange() TxBuilder {
	b.changePolicy = OnlyChange
	return b
}

// ChangePolicy sets the change spend policy.
func (b TxBuilder) ChangePolicy(p ChangeSpendPolicy) TxBuilder {
	b.changePolicy = p
	return b
}

// FeeRate sets the fee rate. It replaces an absolute fee.
func (b TxBuilder) FeeRate(rate btcunit.SatPerVByte) TxBuilder {
	b.feeRate = fn.Some(rate)
	b.feeAbsolute = fn.None[btcutil.Amount]()

	return b
}

// FeeAbsolute sets a fixed fee. It replaces a fee rate.
func (b TxBuilder) FeeAbsolute(fee btcutil.Amount) TxBuilder {
	b.feeAbsolute = fn.Some(fee)
	b.feeRate = fn.None[btcunit.SatPerVByte]()

	return b
}

// DrainWallet spends every spendable output.
func (b TxBuilder) DrainWallet() TxBuilder {
	b.drainWallet = true
	return b
}

// DrainTo sends whatever is left after the recipients and the fee to
// pkScript instead of a change address.
func (b TxBuilder) DrainTo(pkScript []byte) TxBuilder {
	b.drainTo = pkScript
	return b
}

// EnableRbf signals replaceability with the default sequence.
func (b TxBuilder) EnableRbf() TxBuilder {
	b.rbf = fn.Some[uint32](sequenceRbf)
	b.rbfDefault = true

	return b
}

// EnableRbfWithSequence signals replaceability with a given sequence.
func (b TxBuilder) EnableRbfWithSequence(sequence uint32) TxBuilder {
	b.rbf = fn.Some(sequence)
	b.rbfDefault = false

	return b
}

// NLockTime sets the locktime.
func (b TxBuilder) NLockTime(lockTime uint32) TxBuilder {
	b.lockTime = fn.Some(lockTime)
	return b
}

// CurrentHeight sets the height used for the anti fee sniping locktime and
// coinbase maturity. The synced tip is used by default.
func (b TxBuilder) CurrentHeight(height uint32) TxBuilder {
	b.currentHeight = fn.Some(height)
	return b
}

// Version sets the transaction version.
func (b TxBuilder) Version(version int32) TxBuilder {
	b.version = fn.Some(version)
	return b
}

// AddData adds a zero value OP_RETURN output carrying data.
func (b TxBuilder) AddData(data []byte) TxBuilder {
	script, err := txscript.NullDataScript(data)
	if err != nil {
		if b.err == nil {
			b.err = fmt.Errorf("%w: %d bytes", ErrDataTooLarge,
				len(data))
		}

		return b
	}

	return b.AddRecipient(script, 0)
}

// PolicyPath selects the spending path of a keychain's policy.
func (b TxBuilder) PolicyPath(path policy.PathSelection,
	kind descriptor.KeychainKind) TxBuilder {

	paths := make(map[descriptor.KeychainKind]policy.PathSelection,
		len(b.paths)+1)
	for k, v := range b.paths {
		paths[k] = v
	}
	paths[kind] = path
	b.paths = paths

	return b
}

// Ordering sets how inputs and outputs are ordered.
func (b TxBuilder) Ordering(ordering TxOrdering) TxBuilder {
	b.ordering = ordering
	return b
}

// CoinSelection sets the coin selection algorithm. Branch and bound is used
// by default.
func (b TxBuilder) CoinSelection(algorithm coinselect.Algorithm) TxBuilder {
	b.algorithm = algorithm
	return b
}

// AllowDust lets recipient outputs go below the dust limit.
func (b TxBuilder) AllowDust(allow bool) TxBuilder {
	b.allowDust = allow
	return b
}

// SighashType sets the sighash type of every input.
func (b TxBuilder) SighashType(sighash txscript.SigHashType) TxBuilder {
	b.sighash = fn.Some(sighash)
	return b
}

// Finish builds the transaction with w.
func (b TxBuilder) Finish(w *Wallet) (*psbt.Packet, error) {
	return w.CreateTx(b)
}

// drainScript is where change goes, and the internal index it reveals when
// it is a wallet address.
type drainScript struct {
	script []byte
	reveal fn.Option[uint32]
}

// CreateTx builds the transaction a TxBuilder describes. The internal
// address used for change is revealed only when the transaction is built.
func (w *Wallet) CreateTx(b TxBuilder) (*psbt.Packet, error) {
	if b.err != nil {
		return nil, b.err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	packet, err := w.createTxLocked(&b)
	if err != nil {
		log.Debugf("Unable to create tx: %v", err)
		return nil, err
	}

	log.Tracef("Created tx %v: %v", packet.UnsignedTx.TxHash(),
		spewClosure(packet.UnsignedTx))

	return packet, nil
}

// createTxLocked implements CreateTx.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) createTxLocked(b *TxBuilder) (*psbt.Packet, error) {
	if len(b.recipients) == 0 && b.drainTo == nil && !b.drainWallet {
		return nil, ErrNoRecipients
	}

	version := b.version.UnwrapOr(DefaultTxVersion)
	if version < 1 {
		return nil, ErrVersion0
	}

	requirements, err := w.policyRequirements(b)
	if err != nil {
		return nil, err
	}

	if version == 1 && requirements.CSV.IsSome() {
		return nil, ErrVersion1Csv
	}

	height := b.currentHeight.UnwrapOr(uint32(max(w.tipHeight(), 0)))

	lockTime, err := chooseLockTime(b.lockTime, requirements, height)
	if err != nil {
		return nil, err
	}

	sequence, err := chooseSequence(b, requirements.CSV, lockTime)
	if err != nil {
		return nil, err
	}

	feeRate := b.feeRate.UnwrapOr(
		btcunit.NewSatPerVByte(1, btcunit.NewVByte(1)),
	)
	if feeRate.GreaterThan(w.cfg.MaxFeeRate) {
		return nil, fmt.Errorf("%w: %v > %v", ErrFeeRateTooLarge,
			feeRate, w.cfg.MaxFeeRate)
	}

	tx := wire.NewMsgTx(version)
	tx.LockTime = lockTime

	var outgoing btcutil.Amount
	for i, r := range b.recipients {
		txOut := wire.NewTxOut(int64(r.Amount), r.PkScript)
		if !b.allowDust && coinselect.IsDust(txOut) {
			return nil, &OutputBelowDustError{Index: i}
		}

		tx.AddTxOut(txOut)
		outgoing += r.Amount
	}

	required, optional, err := w.candidates(b, int32(height))
	if err != nil {
		return nil, err
	}

	drain, err := w.drainScript(b)
	if err != nil {
		return nil, err
	}

	target := coinselect.Target{
		Value:       outgoing,
		BaseWeight:  int64(btcunit.TxWeight(tx).Uint64()),
		NumOutputs:  len(tx.TxOut),
		AbsoluteFee: b.feeAbsolute,
	}

	algorithm := b.algorithm
	if algorithm == nil {
		algorithm = &coinselect.BranchAndBound{}
	}

	result, err := algorithm.Select(
		required, optional, feeRate.ToSatPerKWeight(), target,
		drain.script,
	)
	if err != nil {
		return nil, err
	}

	if len(result.Selected) == 0 {
		return nil, ErrNoUtxosSelected
	}

	selected := slices.Clone(result.Selected)
	if b.ordering == OrderingShuffle {
		rand.Shuffle(len(selected), func(i, j int) {
			selected[i], selected[j] = selected[j], selected[i]
		})
		rand.Shuffle(len(tx.TxOut), func(i, j int) {
			tx.TxOut[i], tx.TxOut[j] = tx.TxOut[j], tx.TxOut[i]
		})
	}

	for _, u := range selected {
		txIn := wire.NewTxIn(ptr(u.Utxo.OutPoint()), nil, nil)
		txIn.Sequence = sequence
		if f, ok := u.Utxo.(*coinselect.ForeignUtxo); ok {
			txIn.Sequence = f.Sequence.UnwrapOr(sequence)
		}

		tx.AddTxIn(txIn)
	}

	changeIndex := -1
	switch excess := result.Excess.(type) {
	case coinselect.NoChange:
		if len(tx.TxOut) == 0 {
			if b.drainWallet ||
				(b.drainTo != nil && len(b.utxos) > 0) {

				return nil, &coinselect.InsufficientFundsError{
					Needed: excess.DustThreshold,
					Available: excess.Remaining -
						excess.ChangeFee,
				}
			}

			return nil, ErrNoRecipients
		}

	case coinselect.Change:
		changeIndex = len(tx.TxOut)
		tx.AddTxOut(wire.NewTxOut(int64(excess.Amount), drain.script))
	}

	if b.minFee.IsSome() && result.TotalFee() < b.minFee.UnwrapOr(0) {
		return nil, &FeeTooLowError{Required: b.minFee.UnwrapOr(0)}
	}

	if b.ordering == OrderingShuffle {
		authored := &txauthor.AuthoredTx{Tx: tx, ChangeIndex: changeIndex}
		authored.RandomizeChangePosition()
	}

	packet, err := w.buildPacket(b, tx, selected)
	if err != nil {
		return nil, err
	}

	if b.ordering == OrderingBIP69 {
		if err := psbt.InPlaceSort(packet); err != nil {
			return nil, err
		}
	}

	if changeIndex >= 0 {
		err := fn.MapOptionZ(drain.reveal, func(index uint32) error {
			k := w.keychainFor(descriptor.KeychainInternal)
			return w.revealLocked(k, index)
		})
		if err != nil {
			return nil, err
		}
	}

	log.Debugf("Built tx spending %d inputs with fee %v (excess %T)",
		len(selected), result.TotalFee(), result.Excess)

	return packet, nil
}

// policyRequirements merges the timelock conditions of the keychains the
// transaction may spend from.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) policyRequirements(b *TxBuilder) (policy.Condition, error) {
	if b.changePolicy != ChangeAllowed && !w.hasInternal() {
		return policy.Condition{}, ErrChangePolicyDescriptor
	}

	var requirements policy.Condition
	for _, kind := range descriptor.Keychains {
		k, ok := w.index.keychains[kind]
		if !ok || k.policy == nil || !b.changePolicy.allows(kind) {
			continue
		}

		path, ok := b.paths[kind]
		if !ok && k.policy.RequiresPath() {
			return policy.Condition{}, &SpendingPolicyRequiredError{
				Keychain: kind,
			}
		}

		cond, err := k.policy.GetCondition(path)
		if err != nil {
			return policy.Condition{}, err
		}

		requirements, err = requirements.Merge(cond)
		if err != nil {
			return policy.Condition{}, err
		}
	}

	log.Debugf("Policy requirements: csv=%v timelock=%v",
		requirements.CSV, requirements.Timelock)

	return requirements, nil
}

// chooseLockTime picks the locktime: the anti fee sniping height or the
// policy timelock when no locktime was requested, otherwise the requested
// one as long as it satisfies the policy.
func chooseLockTime(requested fn.Option[uint32],
	requirements policy.Condition, height uint32) (uint32, error) {

	if requested.IsNone() {
		if requirements.Timelock.IsNone() {
			return height, nil
		}

		required := requirements.Timelock.UnwrapOr(0)
		if policy.IsTimeBasedLockTime(required) {
			return required, nil
		}

		return max(required, height), nil
	}

	lockTime := requested.UnwrapOr(0)
	if requirements.Timelock.IsNone() {
		return lockTime, nil
	}

	required := requirements.Timelock.UnwrapOr(0)
	if policy.IsTimeBasedLockTime(required) ==
		policy.IsTimeBasedLockTime(lockTime) && lockTime >= required {

		return lockTime, nil
	}

	return 0, &LockTimeError{Requested: lockTime, Required: required}
}

// chooseSequence picks the sequence of the wallet inputs.
func chooseSequence(b *TxBuilder, csv fn.Option[uint32],
	lockTime uint32) (uint32, error) {

	if b.rbf.IsNone() {
		switch {
		case csv.IsSome():
			return csv.UnwrapOr(0), nil

		case lockTime != 0:
			return sequenceLockTimeNoRbf, nil

		default:
			return wire.MaxTxInSequenceNum, nil
		}
	}

	rbf := b.rbf.UnwrapOr(sequenceRbf)
	if b.rbfDefault {
		return csv.UnwrapOr(rbf), nil
	}

	if rbf >= sequenceLockTimeNoRbf {
		return 0, ErrRbfSequence
	}

	if csv.IsSome() && !rbfSatisfiesCsv(rbf, csv.UnwrapOr(0)) {
		return 0, &RbfSequenceCsvError{Rbf: rbf, Csv: csv.UnwrapOr(0)}
	}

	return rbf, nil
}

// rbfSatisfiesCsv reports whether an RBF sequence also satisfies a relative
// timelock: it has to enable relative locks, use the same unit and be at
// least as long.
func rbfSatisfiesCsv(rbf, csv uint32) bool {
	if rbf&wire.SequenceLockTimeDisabled != 0 {
		return false
	}

	if policy.IsTimeBasedCSV(rbf) != policy.IsTimeBasedCSV(csv) {
		return false
	}

	return rbf >= csv
}

// candidates returns the outputs that must be spent and the ones coin
// selection may add.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) candidates(b *TxBuilder, height int32) (
	[]coinselect.WeightedUtxo, []coinselect.WeightedUtxo, error) {

	required := make([]coinselect.WeightedUtxo, 0, len(b.utxos))
	for _, op := range b.utxos {
		out, ok := w.txStore.Output(op)
		if !ok || (out.IsSpent && !w.spentByReplaced(b, op)) {
			return nil, nil, &UnknownUtxoError{OutPoint: op}
		}

		weighted, err := w.weighted(out)
		if err != nil {
			return nil, nil, err
		}
		required = append(required, weighted)
	}
	required = append(required, b.foreign...)

	var optional []coinselect.WeightedUtxo
	if !b.manuallySelectedOnly {
		for _, out := range w.txStore.Unspent() {
			switch {
			case slices.Contains(b.utxos, out.OutPoint),
				slices.Contains(b.unspendable, out.OutPoint),
				b.isReplaced(out.OutPoint.Hash),
				!b.changePolicy.allows(out.Keychain),
				!out.IsMature(height):

				continue
			}

			weighted, err := w.weighted(out)
			if err != nil {
				return nil, nil, err
			}
			optional = append(optional, weighted)
		}
	}

	if b.drainWallet {
		required = append(required, optional...)
		optional = nil
	}

	log.Debugf("Coin selection candidates: %d required, %d optional",
		len(required), len(optional))

	return required, optional, nil
}

// isReplaced reports whether hash is the transaction b replaces.
func (b *TxBuilder) isReplaced(hash chainhash.Hash) bool {
	return fn.MapOptionZ(b.replaces, func(h chainhash.Hash) bool {
		return h == hash
	})
}

// spentByReplaced reports whether op is spent by the transaction b
// replaces.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) spentByReplaced(b *TxBuilder, op wire.OutPoint) bool {
	spender, ok := w.txStore.SpenderOf(op)

	return ok && b.isReplaced(spender)
}

// weighted wraps a wallet output with the weight of satisfying its
// descriptor.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) weighted(out wtxmgr.LocalOutput) (coinselect.WeightedUtxo,
	error) {

	desc := w.index.keychains[out.Keychain].desc

	weight, err := desc.MaxWeightToSatisfy()
	if err != nil {
		return coinselect.WeightedUtxo{}, err
	}

	return coinselect.WeightedUtxo{
		Utxo:               &coinselect.LocalUtxo{LocalOutput: out},
		SatisfactionWeight: weight,
		Witness:            desc.Type().IsSegwit(),
	}, nil
}

// drainScript returns the change script: the DrainTo script, or the lowest
// unused revealed internal address, or the next one.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) drainScript(b *TxBuilder) (*drainScript, error) {
	if b.drainTo != nil {
		return &drainScript{script: b.drainTo}, nil
	}

	k := w.keychainFor(descriptor.KeychainInternal)

	index, ok := w.unusedIndex(k)
	if !ok {
		index = k.nextIndex()
	}

	script, err := w.index.scriptAt(k, index)
	if err != nil {
		return nil, err
	}

	return &drainScript{script: script, reveal: fn.Some(index)}, nil
}

// buildPacket wraps tx in a PSBT and fills the data of its inputs and wallet
// outputs.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) buildPacket(b *TxBuilder, tx *wire.MsgTx,
	selected []coinselect.WeightedUtxo) (*psbt.Packet, error) {

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	for i, u := range selected {
		in := &packet.Inputs[i]

		switch utxo := u.Utxo.(type) {
		case *coinselect.LocalUtxo:
			prev, _ := w.txStore.Tx(utxo.OutPoint().Hash)
			desc := w.index.keychains[utxo.Keychain].desc

			err := addInputInfo(
				in, desc, utxo.DerivationIndex, prev.MsgTx,
				utxo.LocalOutput.TxOut, b.onlyWitnessUtxo,
			)
			if err != nil {
				return nil, err
			}

		case *coinselect.ForeignUtxo:
			*in = *utxo.PsbtInput
			taproot := txscript.IsPayToTaproot(utxo.TxOut().PkScript)
			if in.NonWitnessUtxo == nil && !b.onlyWitnessUtxo &&
				!taproot {

				return nil, &MissingNonWitnessUtxoError{
					OutPoint: utxo.Point,
				}
			}
			if b.onlyWitnessUtxo && in.WitnessUtxo != nil {
				in.NonWitnessUtxo = nil
			}
		}

		b.sighash.WhenSome(func(t txscript.SigHashType) {
			in.SighashType = t
		})
	}

	if err := w.updateWalletOutputs(packet); err != nil {
		return nil, err
	}

	return packet, nil
}

// ptr returns a pointer to a copy of v.
func ptr[T any](v T) *T {
	return &v
}
