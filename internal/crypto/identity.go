// Package crypto establishes caller identity for settlement commands.
// Parties are identified by secp256k1 keypairs; a command carries an
// EIP-191 personal-sign signature over its payload, and the server recovers
// the signer's address from it.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// personalSignHash computes the EIP-191 digest:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg)
func personalSignHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return ethcrypto.Keccak256([]byte(prefix), msg)
}

// RecoverSigner recovers the address that produced sigHex over msg. The
// signature is the hex-encoded 65-byte r||s||v form with v in {0,1} or
// {27,28}. The returned address is in canonical lowercase 0x form.
func RecoverSigner(msg []byte, sigHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(raw) != 65 {
		return "", fmt.Errorf("crypto: signature length %d, want 65", len(raw))
	}

	// go-ethereum expects the recovery byte in {0,1}.
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(personalSignHash(msg), sig)
	if err != nil {
		return "", fmt.Errorf("crypto: recover signer: %w", err)
	}
	return CanonicalAddress(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

// CanonicalAddress normalizes an address string to lowercase 0x form so that
// party identifiers compare byte-for-byte throughout the store.
func CanonicalAddress(addr string) string {
	return strings.ToLower(common.HexToAddress(addr).Hex())
}

// Identity holds a party's keypair. The server only ever recovers addresses;
// Identity exists for clients and tests that need to produce signatures.
type Identity struct {
	privateKey *ecdsa.PrivateKey
	address    string
}

// NewIdentity creates an Identity from a hex-encoded secp256k1 private key.
func NewIdentity(privateKeyHex string) (*Identity, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Identity{
		privateKey: pk,
		address:    CanonicalAddress(ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()),
	}, nil
}

// GenerateIdentity creates an Identity with a fresh random keypair.
func GenerateIdentity() (*Identity, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &Identity{
		privateKey: pk,
		address:    CanonicalAddress(ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()),
	}, nil
}

// Address returns the identity's canonical lowercase address.
func (i *Identity) Address() string {
	return i.address
}

// SignMessage signs msg with the EIP-191 personal-sign scheme and returns a
// hex-encoded 65-byte signature with v in {27,28}.
func (i *Identity) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(personalSignHash(msg), i.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign message: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}
