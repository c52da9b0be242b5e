// Package signature verifies session-approval signatures. Approvals are
// signed wallet-side with the usual personal-message convention (prefix,
// keccak-256, secp256k1), so verification recovers the signer address from
// the signature and compares it to the session owner instead of trusting a
// well-formed hex string.
package signature

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

var ErrMalformedSignature = errors.New("malformed signature")

// ApprovalMessage is the canonical text a customer signs to approve a
// redemption session. All parties must build it identically.
func ApprovalMessage(sessionID, shopID, maxAmount string) []byte {
	return []byte(fmt.Sprintf("RCN redemption approval\nsession: %s\nshop: %s\nmax: %s RCN",
		sessionID, shopID, maxAmount))
}

// RecoverSigner recovers the signing wallet address from a 65-byte r||s||v
// hex signature over message. The address comes back lowercase, 0x-prefixed.
func RecoverSigner(message []byte, sigHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(raw) != 65 {
		return "", ErrMalformedSignature
	}

	// r||s||v on the wire; RecoverCompact wants the recovery header first.
	v := raw[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", ErrMalformedSignature
	}
	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], raw[:64])

	pub, _, err := secpecdsa.RecoverCompact(compact, personalHash(message))
	if err != nil {
		return "", fmt.Errorf("signature recovery failed: %w", err)
	}
	return AddressFromPubKey(pub), nil
}

// Verify checks that sigHex over message was produced by expectedAddress.
func Verify(message []byte, sigHex, expectedAddress string) (bool, error) {
	signer, err := RecoverSigner(message, sigHex)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(signer, expectedAddress), nil
}

// AddressFromPubKey derives the wallet address: keccak-256 of the
// uncompressed public key (without the 0x04 tag), last 20 bytes.
func AddressFromPubKey(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()
	sum := keccak256(raw[1:])
	return "0x" + hex.EncodeToString(sum[12:])
}

func personalHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return keccak256([]byte(prefix), message)
}

func keccak256(chunks ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, c := range chunks {
		h.Write(c)
	}
	return h.Sum(nil)
}
