package policy

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrMixedTimelockUnits is returned when a path combines height and
	// time based locks of the same kind.
	ErrMixedTimelockUnits = errors.New("mixed timelock units")

	// ErrNotEnoughItemsSelected is the family of NotEnoughItemsSelectedError.
	ErrNotEnoughItemsSelected = errors.New("not enough items selected")

	// ErrIndexOutOfRange is the family of IndexOutOfRangeError.
	ErrIndexOutOfRange = errors.New("policy index out of range")
)

// NotEnoughItemsSelectedError is returned when fewer items than the
// threshold of a node are selected.
type NotEnoughItemsSelectedError struct {
	// ID is the node that is short of items.
	ID string
}

// Error returns a human readable description of the error.
func (e *NotEnoughItemsSelectedError) Error() string {
	return fmt.Sprintf("%v for policy %s", ErrNotEnoughItemsSelected, e.ID)
}

// Unwrap returns the error family.
func (e *NotEnoughItemsSelectedError) Unwrap() error {
	return ErrNotEnoughItemsSelected
}

// IndexOutOfRangeError is returned when a selected index is not below the
// number of items of a node.
type IndexOutOfRangeError struct {
	// Index is the offending index.
	Index int

	// ID is the node the index was selected for.
	ID string
}

// Error returns a human readable description of the error.
func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("%v: index %d for policy %s", ErrIndexOutOfRange,
		e.Index, e.ID)
}

// Unwrap returns the error family.
func (e *IndexOutOfRangeError) Unwrap() error {
	return ErrIndexOutOfRange
}

// Condition is the nSequence and nLockTime a spending path needs.
type Condition struct {
	// CSV is the relative timelock, as an nSequence value.
	CSV fn.Option[uint32]

	// Timelock is the absolute timelock, as an nLockTime value.
	Timelock fn.Option[uint32]
}

// IsEmpty reports whether the condition asks for nothing.
func (c Condition) IsEmpty() bool {
	return c.CSV.IsNone() && c.Timelock.IsNone()
}

// IsTimeBasedCSV reports whether a relative lock counts seconds.
func IsTimeBasedCSV(sequence uint32) bool {
	return sequence&wire.SequenceLockTimeIsSeconds != 0
}

// IsTimeBasedLockTime reports whether an absolute lock is a timestamp.
func IsTimeBasedLockTime(lockTime uint32) bool {
	return lockTime >= txscript.LockTimeThreshold
}

// mergeLock keeps the larger of two locks of the same unit.
func mergeLock(a, b fn.Option[uint32],
	timeBased func(uint32) bool) (fn.Option[uint32], error) {

	if a.IsNone() {
		return b, nil
	}
	if b.IsNone() {
		return a, nil
	}

	x, y := a.UnwrapOr(0), b.UnwrapOr(0)
	if timeBased(x) != timeBased(y) {
		return fn.None[uint32](), ErrMixedTimelockUnits
	}

	return fn.Some(max(x, y)), nil
}

// Merge combines two conditions that must hold at once.
func (c Condition) Merge(other Condition) (Condition, error) {
	csv, err := mergeLock(c.CSV, other.CSV, IsTimeBasedCSV)
	if err != nil {
		return Condition{}, err
	}

	timelock, err := mergeLock(c.Timelock, other.Timelock,
		IsTimeBasedLockTime)
	if err != nil {
		return Condition{}, err
	}

	return Condition{CSV: csv, Timelock: timelock}, nil
}

// PathSelection maps policy ids to the indices of the items chosen at that
// node.
type PathSelection map[string][]int

// GetCondition returns the condition of the path picked by sel. A node
// with no entry in sel selects all of its items when its threshold equals
// its arity, and nothing otherwise.
func (p *Policy) GetCondition(sel PathSelection) (Condition, error) {
	var defaults []int
	switch p.Item.Kind {
	case KindThresh:
		if p.Item.Threshold == len(p.Item.Items) {
			defaults = indices(len(p.Item.Items))
		}

	case KindMultisig:
		defaults = indices(len(p.Item.Keys))
	}

	selected, ok := sel[p.ID]
	if !ok {
		selected = defaults
	}
	selected = dedup(selected)

	switch p.Item.Kind {
	case KindThresh:
		conds := make([]Condition, len(p.Item.Items))
		errs := make([]error, len(p.Item.Items))
		allEmpty := true
		for i, sub := range p.Item.Items {
			conds[i], errs[i] = sub.GetCondition(sel)
			if errs[i] != nil || !conds[i].IsEmpty() {
				allEmpty = false
			}
		}

		// Nothing below asks for a lock, so the choice doesn't matter.
		if allEmpty {
			return Condition{}, nil
		}

		if len(selected) < p.Item.Threshold {
			return Condition{}, &NotEnoughItemsSelectedError{ID: p.ID}
		}

		var merged Condition
		for _, index := range selected {
			if index < 0 || index >= len(conds) {
				return Condition{}, &IndexOutOfRangeError{
					Index: index, ID: p.ID,
				}
			}

			if errs[index] != nil {
				return Condition{}, errs[index]
			}

			var err error
			merged, err = merged.Merge(conds[index])
			if err != nil {
				return Condition{}, err
			}
		}

		return merged, nil

	case KindMultisig:
		if len(selected) < p.Item.Threshold {
			return Condition{}, &NotEnoughItemsSelectedError{ID: p.ID}
		}

		for _, index := range selected {
			if index < 0 || index >= len(p.Item.Keys) {
				return Condition{}, &IndexOutOfRangeError{
					Index: index, ID: p.ID,
				}
			}
		}

		return Condition{}, nil

	case KindAbsoluteTimelock:
		return Condition{Timelock: fn.Some(p.Item.Value)}, nil

	case KindRelativeTimelock:
		return Condition{CSV: fn.Some(p.Item.Value)}, nil
	}

	return Condition{}, nil
}

// RequiresPath reports whether the policy has a choice between branches
// with different timelocks, so a PathSelection must be given to spend.
func (p *Policy) RequiresPath() bool {
	_, err := p.GetCondition(nil)
	return err != nil
}

// indices returns 0..n-1.
func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}

	return out
}

// dedup drops repeated indices, keeping the first occurrence.
func dedup(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}

		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}
