// Package walletkey generates Ed25519 keypairs and derives the base58check
// addresses that identify them on the chain. It deliberately has no
// persistence layer: callers that need a wallet to survive a process
// restart are responsible for storing and reloading the keypair
// themselves.
package walletkey

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"

	"github.com/golang-powchain/ledger"
)

const (
	checksumLength = 4
	addressVersion = byte(0x00)
)

// Wallet is a single Ed25519 keypair plus the address derived from it.
// It implements ledger.Signer.
type Wallet struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New generates a fresh keypair.
func New() (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate ed25519 keypair")
	}
	return &Wallet{priv: priv, pub: pub}, nil
}

// FromPrivateKey rebuilds a Wallet from a previously generated private
// key, such as one a caller loaded from its own persistence layer.
func FromPrivateKey(priv ed25519.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// PublicKey satisfies ledger.Signer.
func (w *Wallet) PublicKey() ed25519.PublicKey { return w.pub }

// PrivateKey satisfies ledger.Signer.
func (w *Wallet) PrivateKey() ed25519.PrivateKey { return w.priv }

// Address derives the wallet's base58check address:
// Base58(version || RIPEMD160(SHA256(pubkey)) || checksum).
func (w *Wallet) Address() string {
	pubKeyHash := ledger.PublicKeyHash(w.pub)
	versioned := append([]byte{addressVersion}, pubKeyHash...)
	full := append(versioned, Checksum(versioned)...)
	return base58.Encode(full)
}

// Checksum is the first checksumLength bytes of SHA256(SHA256(payload)).
func Checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLength]
}

// DecodeAddress recovers the 20-byte public key hash embedded in address,
// verifying its checksum along the way.
func DecodeAddress(address string) ([]byte, error) {
	decoded, err := base58.Decode(address)
	if err != nil {
		return nil, errors.Wrap(err, "base58 decode address")
	}
	if len(decoded) != 1+ripemd160.Size+checksumLength {
		return nil, errors.Errorf("address %q has wrong length", address)
	}

	version := decoded[0]
	pubKeyHash := decoded[1 : 1+ripemd160.Size]
	checksum := decoded[1+ripemd160.Size:]

	want := Checksum(append([]byte{version}, pubKeyHash...))
	if !bytes.Equal(checksum, want) {
		return nil, errors.Errorf("address %q fails checksum", address)
	}
	return pubKeyHash, nil
}

// ValidateAddress reports whether address decodes and checksums cleanly.
func ValidateAddress(address string) bool {
	_, err := DecodeAddress(address)
	return err == nil
}
