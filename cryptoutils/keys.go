package cryptoutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Pubkey is a raw ed25519 public key identifying one of the three
// principals (instance, operator, owner).
type Pubkey [ed25519.PublicKeySize]byte

// NewPubkeyFromBytes creates a public key from raw bytes with length validation.
func NewPubkeyFromBytes(data []byte) (Pubkey, error) {
	if len(data) != ed25519.PublicKeySize {
		return Pubkey{}, fmt.Errorf("invalid public key length: must be %d bytes", ed25519.PublicKeySize)
	}

	var pk Pubkey
	copy(pk[:], data)
	return pk, nil
}

// NewPubkeyFromHex creates a public key from a hex string, with or without 0x prefix.
func NewPubkeyFromHex(s string) (Pubkey, error) {
	if len(s) < 2 || s[:2] != "0x" {
		s = "0x" + s
	}
	data, err := hexutil.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("invalid public key hex: %w", err)
	}
	return NewPubkeyFromBytes(data)
}

// Bytes returns the raw key bytes.
func (pk Pubkey) Bytes() []byte {
	return pk[:]
}

// String returns the 0x-prefixed hex representation.
func (pk Pubkey) String() string {
	return hexutil.Encode(pk[:])
}

// Equal compares two public keys for equality.
func (pk Pubkey) Equal(other Pubkey) bool {
	return pk == other
}

// IsZero reports whether the key is all zeroes (unset).
func (pk Pubkey) IsZero() bool {
	return pk == Pubkey{}
}

// MarshalJSON encodes the key as a 0x-prefixed hex string.
func (pk Pubkey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + hexutil.Encode(pk[:]) + `"`), nil
}

// UnmarshalJSON decodes a 0x-prefixed hex string.
func (pk *Pubkey) UnmarshalJSON(data []byte) error {
	var buf hexutil.Bytes
	if err := buf.UnmarshalJSON(data); err != nil {
		return err
	}
	parsed, err := NewPubkeyFromBytes(buf)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// Signature is a raw ed25519 signature.
type Signature [ed25519.SignatureSize]byte

// NewSignatureFromBytes creates a signature from raw bytes with length validation.
func NewSignatureFromBytes(data []byte) (Signature, error) {
	if len(data) != ed25519.SignatureSize {
		return Signature{}, fmt.Errorf("invalid signature length: must be %d bytes", ed25519.SignatureSize)
	}

	var sig Signature
	copy(sig[:], data)
	return sig, nil
}

// Bytes returns the raw signature bytes.
func (sig Signature) Bytes() []byte {
	return sig[:]
}

// String returns the 0x-prefixed hex representation.
func (sig Signature) String() string {
	return hexutil.Encode(sig[:])
}

// MarshalJSON encodes the signature as a 0x-prefixed hex string.
func (sig Signature) MarshalJSON() ([]byte, error) {
	return []byte(`"` + hexutil.Encode(sig[:]) + `"`), nil
}

// UnmarshalJSON decodes a 0x-prefixed hex string.
func (sig *Signature) UnmarshalJSON(data []byte) error {
	var buf hexutil.Bytes
	if err := buf.UnmarshalJSON(data); err != nil {
		return err
	}
	parsed, err := NewSignatureFromBytes(buf)
	if err != nil {
		return err
	}
	*sig = parsed
	return nil
}

// SigningKey wraps an ed25519 private key. The instance keypair, as well as
// operator and owner keys in tests and tooling, are SigningKeys.
type SigningKey struct {
	priv ed25519.PrivateKey
}

// NewSigningKey generates a fresh ed25519 keypair.
func NewSigningKey() (SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKey{}, err
	}
	return SigningKey{priv: priv}, nil
}

// SigningKeyFromSeed reconstructs a keypair from a 32-byte seed.
func SigningKeyFromSeed(seed []byte) (SigningKey, error) {
	if len(seed) != ed25519.SeedSize {
		return SigningKey{}, fmt.Errorf("invalid key seed length: must be %d bytes", ed25519.SeedSize)
	}
	return SigningKey{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the 32-byte seed the key can be reconstructed from.
func (k SigningKey) Seed() []byte {
	return k.priv.Seed()
}

// Public returns the public half of the keypair.
func (k SigningKey) Public() Pubkey {
	var pk Pubkey
	copy(pk[:], k.priv.Public().(ed25519.PublicKey))
	return pk
}

// Sign signs the payload with the private key.
func (k SigningKey) Sign(payload []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.priv, payload))
	return sig
}

// Valid reports whether the key has been initialized.
func (k SigningKey) Valid() bool {
	return len(k.priv) == ed25519.PrivateKeySize
}

// VerifySignature checks an ed25519 signature over payload. The error carries
// no detail about which component mismatched.
func VerifySignature(pk Pubkey, payload []byte, sig Signature) error {
	if !ed25519.Verify(ed25519.PublicKey(pk[:]), payload, sig[:]) {
		return errors.New("signature verification failed")
	}
	return nil
}
