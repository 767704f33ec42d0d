package descriptor

import (
	"strings"
)

const (
	// inputCharset is the set of characters allowed in a descriptor, in
	// the order that defines their checksum symbol values.
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset is the bech32 alphabet the checksum is written in.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	// checksumLength is the number of checksum characters.
	checksumLength = 8
)

// polymodGenerator holds the generator of the BCH code used by descriptor
// checksums.
var polymodGenerator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

// polymod folds one symbol into the running checksum.
func polymod(c uint64, val uint64) uint64 {
	top := c >> 35
	c = (c&0x7ffffffff)<<5 ^ val
	for i, gen := range polymodGenerator {
		if (top>>uint(i))&1 == 1 {
			c ^= gen
		}
	}

	return c
}

// Checksum computes the 8 character checksum of a descriptor body. It
// returns false if the body holds a character outside the descriptor
// charset.
func Checksum(desc string) (string, bool) {
	c := uint64(1)
	cls, clsCount := uint64(0), 0

	for _, ch := range desc {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", false
		}

		// Emit a symbol for the position inside the group, for every
		// character.
		c = polymod(c, uint64(pos&31))

		// Accumulate the group numbers.
		cls = cls*3 + uint64(pos>>5)
		clsCount++
		if clsCount == 3 {
			c = polymod(c, cls)
			cls, clsCount = 0, 0
		}
	}

	if clsCount > 0 {
		c = polymod(c, cls)
	}

	// Shift further to determine the checksum.
	for i := 0; i < checksumLength; i++ {
		c = polymod(c, 0)
	}

	// Prevent appending zeroes from not affecting the checksum.
	c ^= 1

	var out [checksumLength]byte
	for i := 0; i < checksumLength; i++ {
		out[i] = checksumCharset[(c>>(5*(7-uint(i))))&31]
	}

	return string(out[:]), true
}

// AddChecksum appends "#checksum" to a descriptor body. A body that already
// carries a checksum is returned unchanged.
func AddChecksum(desc string) (string, error) {
	if body, _, found := strings.Cut(desc, "#"); found {
		if err := VerifyChecksum(desc); err != nil {
			return "", err
		}

		desc = body
	}

	sum, ok := Checksum(desc)
	if !ok {
		return "", parseErr(ErrInvalidDescriptor, desc)
	}

	return desc + "#" + sum, nil
}

// VerifyChecksum checks the checksum of a descriptor. A descriptor without a
// checksum passes.
func VerifyChecksum(desc string) error {
	body, sum, found := strings.Cut(desc, "#")
	if !found {
		return nil
	}

	if len(sum) != checksumLength {
		return parseErr(ErrChecksumMismatch, sum)
	}

	want, ok := Checksum(body)
	if !ok {
		return parseErr(ErrInvalidDescriptor, body)
	}

	if want != sum {
		return parseErr(ErrChecksumMismatch, sum)
	}

	return nil
}
