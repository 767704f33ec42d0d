// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package hdkeys implements BIP39 mnemonics, BIP32 extended keys and
// derivation paths.
package hdkeys

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tyler-smith/go-bip39"
)

// WordCount is the number of words of a BIP39 mnemonic.
type WordCount int

// The word counts allowed by BIP39.
const (
	Words12 WordCount = 12
	Words15 WordCount = 15
	Words18 WordCount = 18
	Words21 WordCount = 21
	Words24 WordCount = 24
)

// entropyBits returns the entropy size in bits that produces the word count.
func (w WordCount) entropyBits() (int, error) {
	switch w {
	case Words12, Words15, Words18, Words21, Words24:
		// Each word encodes 11 bits, one in 33 of which is checksum.
		return int(w) * 11 * 32 / 33, nil

	default:
		return 0, newError(ErrInvalidMnemonic, fmt.Sprintf(
			"unsupported word count %d", w,
		), nil)
	}
}

// Mnemonic is a validated BIP39 English mnemonic.
type Mnemonic struct {
	words   string
	entropy []byte
}

// NewMnemonic generates a fresh mnemonic of the given length from system
// randomness.
func NewMnemonic(count WordCount) (*Mnemonic, error) {
	bits, err := count.entropyBits()
	if err != nil {
		return nil, err
	}

	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return nil, mapError("generate entropy", err)
	}

	return NewMnemonicFromEntropy(entropy)
}

// NewMnemonicFromEntropy encodes the given entropy, which must be 16 to 32
// bytes in steps of 4.
func NewMnemonicFromEntropy(entropy []byte) (*Mnemonic, error) {
	words, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, mapError("encode mnemonic", err)
	}

	return &Mnemonic{
		words:   words,
		entropy: append([]byte(nil), entropy...),
	}, nil
}

// ParseMnemonic validates the word list and its checksum. Runs of whitespace
// between words are normalized.
func ParseMnemonic(s string) (*Mnemonic, error) {
	fields := strings.Fields(s)
	known := wordSet()
	for _, word := range fields {
		if _, ok := known[word]; !ok {
			return nil, newError(ErrInvalidMnemonic, fmt.Sprintf(
				"unknown word %q", word,
			), bip39.ErrInvalidMnemonic)
		}
	}

	words := strings.Join(fields, " ")
	entropy, err := bip39.EntropyFromMnemonic(words)
	if err != nil {
		return nil, mapError("parse mnemonic", err)
	}

	return &Mnemonic{words: words, entropy: entropy}, nil
}

var (
	wordsOnce    sync.Once
	englishWords map[string]struct{}
)

// wordSet returns the English word list as a set.
func wordSet() map[string]struct{} {
	wordsOnce.Do(func() {
		list := bip39.GetWordList()
		englishWords = make(map[string]struct{}, len(list))
		for _, w := range list {
			englishWords[w] = struct{}{}
		}
	})

	return englishWords
}

// String returns the space separated words.
func (m *Mnemonic) String() string {
	return m.words
}

// WordCount returns the number of words.
func (m *Mnemonic) WordCount() WordCount {
	return WordCount(len(strings.Fields(m.words)))
}

// Entropy returns a copy of the encoded entropy.
func (m *Mnemonic) Entropy() []byte {
	return append([]byte(nil), m.entropy...)
}

// Seed stretches the mnemonic and passphrase into the 64-byte BIP39 seed.
func (m *Mnemonic) Seed(passphrase string) []byte {
	return bip39.NewSeed(m.words, passphrase)
}
