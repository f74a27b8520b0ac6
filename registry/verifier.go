package registry

import (
	"github.com/ruteri/tdx-identity-backend/cryptoutils"
)

// QuoteVerifier checks a raw attestation quote against expected report data.
type QuoteVerifier interface {
	Verify(rawQuote []byte, expectedReportData [cryptoutils.ReportDataSize]byte) error
}

// DCAPVerifier verifies TDX quotes per the configured policy. With
// Policy.VerifyChain unset (the SKIP_TDX_AUTH testing mode) only quote
// well-formedness and the report data binding are checked.
type DCAPVerifier struct {
	Policy cryptoutils.QuotePolicy
}

func (v *DCAPVerifier) Verify(rawQuote []byte, expectedReportData [cryptoutils.ReportDataSize]byte) error {
	return cryptoutils.VerifyQuote(rawQuote, expectedReportData, v.Policy)
}
