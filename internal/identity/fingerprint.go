package identity

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const fingerprintPrefix = "seal1"

// Fingerprint renders a public key as a short shareable identity string.
func Fingerprint(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", ErrInvalidPublicKey
	}
	h := blake2b.Sum256(pub)
	return fingerprintPrefix + base58.Encode(h[:]), nil
}

// VerifyFingerprint reports whether fingerprint matches the public key.
func VerifyFingerprint(fingerprint string, pub ed25519.PublicKey) (bool, error) {
	expected, err := Fingerprint(pub)
	if err != nil {
		return false, err
	}
	return fingerprint == expected, nil
}
