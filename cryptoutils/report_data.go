package cryptoutils

// ReportDataSize is the size of the TDX report data field quotes attest over.
const ReportDataSize = 64

// ReportDataForPubkey builds the canonical 64-byte report data for an
// instance public key: key bytes at offset 0, zero-padded. The construction
// is injective over the key and recomputed on both sides of the protocol, so
// verification reduces to a byte comparison.
func ReportDataForPubkey(pk Pubkey) [ReportDataSize]byte {
	var reportData [ReportDataSize]byte
	copy(reportData[:], pk[:])
	return reportData
}
