// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/hdkeys"
	"github.com/lightningnetwork/lnd/tlv"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	// seedFileVersion is the only seed file layout so far.
	seedFileVersion = 1

	saltLen  = 32
	nonceLen = 24
	keyLen   = 32

	// typeTemplate is the descriptor template of the wallet.
	typeTemplate tlv.Type = 0

	// typeEntropy is the mnemonic entropy.
	typeEntropy tlv.Type = 2

	// typeBIP39Pass is the optional BIP39 passphrase.
	typeBIP39Pass tlv.Type = 4

	// typeNetwork is the bitcoin network magic.
	typeNetwork tlv.Type = 6
)

var (
	// seedFileMagic starts every seed file.
	seedFileMagic = [4]byte{'d', 'w', 's', 'd'}

	// scryptN, scryptR and scryptP are the key stretching parameters.
	scryptN = 1 << 18
	scryptR = 8
	scryptP = 1

	// errWrongPassphrase is returned when the seed file does not decrypt.
	errWrongPassphrase = errors.New("wrong passphrase or corrupt seed file")

	// errBadSeedFile is returned when the seed file is malformed.
	errBadSeedFile = errors.New("malformed seed file")
)

// walletSeed is the secret material a wallet is rebuilt from.
type walletSeed struct {
	mnemonic  *hdkeys.Mnemonic
	bip39Pass string
	template  descriptor.Template
	network   wire.BitcoinNet
}

// descriptors returns the external and internal descriptors of the seed,
// including their private keys.
func (s *walletSeed) descriptors(net *chaincfg.Params) (string, string,
	error) {

	if s.network != net.Net {
		return "", "", fmt.Errorf("seed is for network %v, not %v",
			s.network, net.Net)
	}

	key, err := descriptor.NewSecretKeyFromMnemonic(
		net, s.mnemonic, s.bip39Pass,
	)
	if err != nil {
		return "", "", err
	}

	build := func(kind descriptor.KeychainKind) (string, error) {
		desc, keys, err := descriptor.BuildDescriptor(
			key, kind, s.template, net,
		)
		if err != nil {
			return "", err
		}

		return desc.StringWithSecret(keys), nil
	}

	external, err := build(descriptor.KeychainExternal)
	if err != nil {
		return "", "", err
	}

	internal, err := build(descriptor.KeychainInternal)
	if err != nil {
		return "", "", err
	}

	return external, internal, nil
}

// encode serializes the seed as a TLV stream.
func (s *walletSeed) encode(w io.Writer) error {
	template := uint8(s.template)
	entropy := s.mnemonic.Entropy()
	pass := []byte(s.bip39Pass)
	network := uint32(s.network)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeTemplate, &template),
		tlv.MakePrimitiveRecord(typeEntropy, &entropy),
	}
	if len(pass) > 0 {
		records = append(
			records, tlv.MakePrimitiveRecord(typeBIP39Pass, &pass),
		)
	}
	records = append(
		records, tlv.MakePrimitiveRecord(typeNetwork, &network),
	)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// decodeSeed is the inverse of encode.
func decodeSeed(r io.Reader) (*walletSeed, error) {
	var (
		template uint8
		entropy  []byte
		pass     []byte
		network  uint32
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeTemplate, &template),
		tlv.MakePrimitiveRecord(typeEntropy, &entropy),
		tlv.MakePrimitiveRecord(typeBIP39Pass, &pass),
		tlv.MakePrimitiveRecord(typeNetwork, &network),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadSeedFile, err)
	}

	for _, typ := range []tlv.Type{typeTemplate, typeEntropy, typeNetwork} {
		if _, ok := parsed[typ]; !ok {
			return nil, fmt.Errorf("%w: missing record %d",
				errBadSeedFile, typ)
		}
	}

	mnemonic, err := hdkeys.NewMnemonicFromEntropy(entropy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadSeedFile, err)
	}

	return &walletSeed{
		mnemonic:  mnemonic,
		bip39Pass: string(pass),
		template:  descriptor.Template(template),
		network:   wire.BitcoinNet(network),
	}, nil
}

// deriveKey stretches the passphrase into a secretbox key.
func deriveKey(passphrase, salt []byte) (*[keyLen]byte, error) {
	k, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, err
	}

	var key [keyLen]byte
	copy(key[:], k)

	return &key, nil
}

// encryptSeed returns the seed file contents: magic, version, salt, nonce
// and the sealed TLV stream.
func encryptSeed(seed *walletSeed, passphrase []byte) ([]byte, error) {
	var plain bytes.Buffer
	if err := seed.encode(&plain); err != nil {
		return nil, err
	}

	var salt [saltLen]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}

	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	key, err := deriveKey(passphrase, salt[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(seedFileMagic)+1+saltLen+nonceLen+
		plain.Len()+secretbox.Overhead)
	out = append(out, seedFileMagic[:]...)
	out = append(out, seedFileVersion)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)

	return secretbox.Seal(out, plain.Bytes(), &nonce, key), nil
}

// decryptSeed opens seed file contents produced by encryptSeed.
func decryptSeed(data, passphrase []byte) (*walletSeed, error) {
	header := len(seedFileMagic) + 1 + saltLen + nonceLen
	if len(data) < header+secretbox.Overhead {
		return nil, fmt.Errorf("%w: too short", errBadSeedFile)
	}

	if !bytes.Equal(data[:len(seedFileMagic)], seedFileMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", errBadSeedFile)
	}

	rest := data[len(seedFileMagic):]
	if rest[0] != seedFileVersion {
		return nil, fmt.Errorf("%w: unknown version %d", errBadSeedFile,
			rest[0])
	}
	rest = rest[1:]

	salt := rest[:saltLen]

	var nonce [nonceLen]byte
	copy(nonce[:], rest[saltLen:saltLen+nonceLen])

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plain, ok := secretbox.Open(nil, rest[saltLen+nonceLen:], &nonce, key)
	if !ok {
		return nil, errWrongPassphrase
	}

	return decodeSeed(bytes.NewReader(plain))
}

// writeSeedFile encrypts the seed to path. An existing file is never
// overwritten.
func writeSeedFile(path string, seed *walletSeed, passphrase []byte) error {
	data, err := encryptSeed(seed, passphrase)
	if err != nil {
		return err
	}

	// #nosec G304 -- path is derived from the configured data dir.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// readSeedFile decrypts the seed file at path.
func readSeedFile(path string, passphrase []byte) (*walletSeed, error) {
	// #nosec G304 -- path is derived from the configured data dir.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return decryptSeed(data, passphrase)
}
