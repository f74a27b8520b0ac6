package cryptoutils

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Certification data types from the Intel quote format.
const (
	certTypePPIDRSA2048 = 2
	certTypePPIDRSA3072 = 3
	certTypePCKChain    = 5
	certTypeQEReport    = 6
)

// ErrPPIDCertChain is returned when the quote carries a PCK certificate
// chain (certification data type 5) instead of an encrypted PPID. Extracting
// the PPID from the chain's certificate extensions is not supported; the
// condition is surfaced rather than guessed around.
var ErrPPIDCertChain = errors.New("quote certification data is a PCK certificate chain, encrypted PPID not present")

// Fixed offsets in a v4 quote: 48-byte header, 584-byte TD report,
// 4-byte signature length, then the ECDSA auth data which starts with a
// 64-byte signature and a 64-byte attestation key.
const (
	quoteHeaderSize = 48
	tdReportSize    = 584
	authDataOffset  = quoteHeaderSize + tdReportSize + 4
	qeReportSize    = 384
	qeReportSigSize = 64
	ppidRSA2048Size = 256
	ppidRSA3072Size = 384
)

// ExtractEncryptedPPID walks the quote's QE report certification data and
// returns the encrypted platform provisioning ID. Supported inner
// certification types are 2 (RSA-2048-OAEP) and 3 (RSA-3072-OAEP); type 5
// fails with ErrPPIDCertChain.
func ExtractEncryptedPPID(rawQuote []byte) ([]byte, error) {
	if len(rawQuote) < authDataOffset {
		return nil, errors.New("quote too short")
	}

	sigLen := binary.LittleEndian.Uint32(rawQuote[authDataOffset-4 : authDataOffset])
	if uint64(authDataOffset)+uint64(sigLen) > uint64(len(rawQuote)) {
		return nil, errors.New("quote signature data truncated")
	}
	authData := rawQuote[authDataOffset : authDataOffset+int(sigLen)]

	// Skip ECDSA signature and attestation key to the certification data.
	if len(authData) < 128+6 {
		return nil, errors.New("quote auth data truncated")
	}
	certData := authData[128:]

	outerType := binary.LittleEndian.Uint16(certData[0:2])
	outerSize := binary.LittleEndian.Uint32(certData[2:6])
	if outerType != certTypeQEReport {
		return nil, fmt.Errorf("unexpected certification data type %d, expected QE report data", outerType)
	}
	if uint64(6)+uint64(outerSize) > uint64(len(certData)) {
		return nil, errors.New("quote certification data truncated")
	}
	qeCertData := certData[6 : 6+int(outerSize)]

	// QE report, its signature, then length-prefixed QE auth data.
	if len(qeCertData) < qeReportSize+qeReportSigSize+2 {
		return nil, errors.New("QE report certification data truncated")
	}
	rest := qeCertData[qeReportSize+qeReportSigSize:]
	authLen := binary.LittleEndian.Uint16(rest[0:2])
	if len(rest) < 2+int(authLen)+6 {
		return nil, errors.New("QE auth data truncated")
	}
	inner := rest[2+int(authLen):]

	innerType := binary.LittleEndian.Uint16(inner[0:2])
	innerSize := binary.LittleEndian.Uint32(inner[2:6])
	if uint64(6)+uint64(innerSize) > uint64(len(inner)) {
		return nil, errors.New("inner certification data truncated")
	}
	data := inner[6 : 6+int(innerSize)]

	switch innerType {
	case certTypePPIDRSA2048:
		if len(data) < ppidRSA2048Size {
			return nil, errors.New("encrypted PPID data truncated")
		}
		return data[:ppidRSA2048Size], nil
	case certTypePPIDRSA3072:
		if len(data) < ppidRSA3072Size {
			return nil, errors.New("encrypted PPID data truncated")
		}
		return data[:ppidRSA3072Size], nil
	case certTypePCKChain:
		return nil, ErrPPIDCertChain
	default:
		return nil, fmt.Errorf("unsupported certification data type %d", innerType)
	}
}
