package hdkeys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// HardenedKeyStart is the index of the first hardened child.
const HardenedKeyStart = hdkeychain.HardenedKeyStart

// DerivationPath is a BIP32 derivation path. Hardened indices carry the
// hdkeychain.HardenedKeyStart offset.
type DerivationPath []uint32

// ParseDerivationPath converts a derivation path string to its binary form.
// The leading "m" is optional so relative paths ("0/1") parse too, and the
// hardened marker may be any of ', h or H.
func ParseDerivationPath(strPath string) (DerivationPath, error) {
	strPath = strings.TrimSpace(strPath)
	if strPath == "" || strPath == "m" {
		return DerivationPath{}, nil
	}

	elems := strings.Split(strPath, "/")
	if elems[0] == "m" {
		elems = elems[1:]
	}

	path := make(DerivationPath, 0, len(elems))
	for _, elem := range elems {
		index, err := parseIndex(elem)
		if err != nil {
			return nil, newError(ErrInvalidPath, fmt.Sprintf(
				"invalid derivation path %q", strPath,
			), err)
		}

		path = append(path, index)
	}

	return path, nil
}

// parseIndex parses a single path element.
func parseIndex(elem string) (uint32, error) {
	var offset uint32
	switch {
	case strings.HasSuffix(elem, "'"), strings.HasSuffix(elem, "h"),
		strings.HasSuffix(elem, "H"):

		offset = hdkeychain.HardenedKeyStart
		elem = elem[:len(elem)-1]
	}

	if elem == "" || elem[0] == '+' || elem[0] == '-' {
		return 0, fmt.Errorf("malformed element %q", elem)
	}

	value, err := strconv.ParseUint(elem, 10, 32)
	if err != nil {
		return 0, err
	}

	if value >= hdkeychain.HardenedKeyStart {
		return 0, fmt.Errorf("element %d out of range", value)
	}

	return uint32(value) + offset, nil
}

// String renders the path in its canonical form, e.g. "m/84'/0'/0'".
func (p DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, index := range p {
		b.WriteString("/")
		b.WriteString(FormatIndex(index))
	}

	return b.String()
}

// Suffix renders the path without the leading "m", e.g. "84'/0'/0'". This
// is the form used inside descriptor key origins.
func (p DerivationPath) Suffix() string {
	return strings.TrimPrefix(strings.TrimPrefix(p.String(), "m"), "/")
}

// FormatIndex renders a single child index using the ' hardened marker.
func FormatIndex(index uint32) string {
	if index >= hdkeychain.HardenedKeyStart {
		return strconv.FormatUint(
			uint64(index-hdkeychain.HardenedKeyStart), 10,
		) + "'"
	}

	return strconv.FormatUint(uint64(index), 10)
}

// Extend returns a new path with other appended. Neither input is modified.
func (p DerivationPath) Extend(other DerivationPath) DerivationPath {
	out := make(DerivationPath, 0, len(p)+len(other))
	out = append(out, p...)

	return append(out, other...)
}

// Child returns a new path with a single index appended.
func (p DerivationPath) Child(index uint32) DerivationPath {
	return p.Extend(DerivationPath{index})
}

// IsMaster reports whether the path is empty, i.e. refers to the key itself.
func (p DerivationPath) IsMaster() bool {
	return len(p) == 0
}

// HasHardened reports whether any step of the path is hardened.
func (p DerivationPath) HasHardened() bool {
	for _, index := range p {
		if index >= hdkeychain.HardenedKeyStart {
			return true
		}
	}

	return false
}

// Equal reports whether both paths have the same steps.
func (p DerivationPath) Equal(other DerivationPath) bool {
	if len(p) != len(other) {
		return false
	}

	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}

	return true
}
