package cryptoutils

import "encoding/binary"

// Domain separator tags for signed request payloads. Each mutating operation
// has its own tag and every payload embeds the instance public key, so a
// signature is valid for exactly one operation against exactly one instance.
const (
	tagRegisterOperator  = "tdx-identity/register-operator/v1"
	tagRegisterOwner     = "tdx-identity/register-owner/v1"
	tagLedgerRegister    = "tdx-identity/ledger-register/v1"
	tagAttachOwner       = "tdx-identity/attach-owner/v1"
	tagConfigureWorkload = "tdx-identity/configure-workload/v1"
	tagExposeWorkload    = "tdx-identity/expose-workload/v1"
)

// payload assembles tag || u16-len-prefixed fields. All fields here are
// fixed-size key or hash material, the length prefixes keep the encoding
// injective regardless.
func payload(tag string, fields ...[]byte) []byte {
	out := make([]byte, 0, len(tag)+len(fields)*34)
	out = append(out, tag...)
	for _, f := range fields {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(f)))
		out = append(out, l[:]...)
		out = append(out, f...)
	}
	return out
}

// RegisterOperatorPayload is signed by the operator to claim an instance.
func RegisterOperatorPayload(instance, operator Pubkey) []byte {
	return payload(tagRegisterOperator, instance[:], operator[:])
}

// RegisterOwnerPayload is signed by the owner when registering with an instance.
func RegisterOwnerPayload(instance, owner Pubkey) []byte {
	return payload(tagRegisterOwner, instance[:], owner[:])
}

// LedgerRegisterPayload is signed by the instance to authenticate a ledger
// registration. quoteHash is the SHA-256 of the raw attestation quote.
func LedgerRegisterPayload(instance Pubkey, quoteHash [32]byte, operator Pubkey) []byte {
	return payload(tagLedgerRegister, instance[:], quoteHash[:], operator[:])
}

// AttachOwnerPayload is signed by the instance to bind an owner key to its
// ledger entry.
func AttachOwnerPayload(instance, owner Pubkey) []byte {
	return payload(tagAttachOwner, instance[:], owner[:])
}

// ConfigureWorkloadPayload is signed by the owner over the canonical
// descriptor hash.
func ConfigureWorkloadPayload(instance Pubkey, descriptorHash [32]byte) []byte {
	return payload(tagConfigureWorkload, instance[:], descriptorHash[:])
}

// ExposeWorkloadPayload is signed by the owner to retract interactive access
// and publish the workload port.
func ExposeWorkloadPayload(instance Pubkey, descriptorHash [32]byte) []byte {
	return payload(tagExposeWorkload, instance[:], descriptorHash[:])
}
