package cryptoutils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Domain separation strings for the two key derivations. They must never
// collide with each other or with the signing payload tags.
const (
	ownerTokenDomain = "tdx-identity/owner-token/v1"
	volumeKeyDomain  = "tdx-identity/volume-key/v1"
)

// OwnerTokenSize is the byte length of a derived owner token.
const OwnerTokenSize = 32

// OwnerToken is the one-shot secret the instance hands the operator, gating
// the owner-registration transition. It is derived, never stored.
type OwnerToken [OwnerTokenSize]byte

// ParseOwnerToken decodes a hex-encoded owner token.
func ParseOwnerToken(s string) (OwnerToken, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return OwnerToken{}, fmt.Errorf("invalid token hex: %w", err)
	}
	if len(data) != OwnerTokenSize {
		return OwnerToken{}, fmt.Errorf("invalid token length: must be %d bytes", OwnerTokenSize)
	}

	var t OwnerToken
	copy(t[:], data)
	return t, nil
}

// String returns the hex representation handed to the operator.
func (t OwnerToken) String() string {
	return hex.EncodeToString(t[:])
}

// Equal compares two tokens in constant time.
func (t OwnerToken) Equal(other OwnerToken) bool {
	return subtle.ConstantTimeCompare(t[:], other[:]) == 1
}

// DeriveOwnerToken derives the owner token for an (instance, operator) pair:
// HMAC-SHA256 keyed by the instance private seed over the domain tag and the
// operator public key. The instance can re-derive and check the token at any
// time without persisting it, and distinct operator keys yield distinct
// tokens for the same instance.
func DeriveOwnerToken(instance SigningKey, operator Pubkey) OwnerToken {
	mac := hmac.New(sha256.New, instance.Seed())
	mac.Write([]byte(ownerTokenDomain))
	mac.Write(operator[:])

	var t OwnerToken
	copy(t[:], mac.Sum(nil))
	return t
}

// VolumeKeySize is the byte length of the encrypted-volume root key.
const VolumeKeySize = 32

// DeriveVolumeKey derives the encrypted-volume root key from owner-supplied
// secret material using Argon2id. The salt binds the instance public key
// under the volume-key domain tag, so the key is unique per instance and the
// owner can reproduce it from the material alone plus public data.
//
// Parameters: time=1, memory=64MiB, threads=4, keyLen=32.
func DeriveVolumeKey(ownerSecret []byte, instance Pubkey) []byte {
	salt := append([]byte(volumeKeyDomain), instance[:]...)
	return argon2.IDKey(ownerSecret, salt, 1, 64*1024, 4, VolumeKeySize)
}
