package cryptoutils

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	tdx_abi "github.com/google/go-tdx-guest/abi"
	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/verify"
	"github.com/google/go-tdx-guest/verify/trust"
)

// intelPCSBase is the collateral source go-tdx-guest talks to by default.
// When a PCCS is configured, requests are redirected there.
const intelPCSBase = "https://api.trustedservices.intel.com"

// QuotePolicy controls how far quote verification goes. Report data equality
// is always checked; the chain, collateral, and CRL checks are independently
// toggleable.
type QuotePolicy struct {
	// VerifyChain enables cryptographic verification against the Intel
	// root of trust. When false only well-formedness and report data are
	// checked (the SKIP_TDX_AUTH testing mode).
	VerifyChain bool

	// GetCollateral fetches verification collateral (TCB info, QE identity).
	GetCollateral bool

	// CheckRevocations fetches and checks CRLs. Implies collateral.
	CheckRevocations bool

	// PCCSURL redirects collateral fetches to a local PCCS. Empty means the
	// Intel PCS directly.
	PCCSURL string

	// TrustedRoots overrides the built-in Intel SGX root certificate pool.
	TrustedRoots *x509.CertPool
}

// pccsGetter rewrites Intel PCS collateral URLs to a configured PCCS.
type pccsGetter struct {
	base string
	next trust.HTTPSGetter
}

func (g *pccsGetter) Get(url string) ([]byte, error) {
	return g.next.Get(strings.Replace(url, intelPCSBase, g.base, 1))
}

// ParseQuoteV4 parses a raw quote and rejects anything that is not a
// well-formed TDX v4 quote.
func ParseQuoteV4(rawQuote []byte) (*tdx_pb.QuoteV4, error) {
	protoQuote, err := tdx_abi.QuoteToProto(rawQuote)
	if err != nil {
		return nil, fmt.Errorf("could not parse quote: %w", err)
	}

	v4Quote, ok := protoQuote.(*tdx_pb.QuoteV4)
	if !ok {
		return nil, fmt.Errorf("unsupported quote type: %T", protoQuote)
	}
	return v4Quote, nil
}

// VerifyQuote checks a raw quote against the policy and the expected report
// data. The report data comparison is byte-for-byte and unconditional.
func VerifyQuote(rawQuote []byte, expectedReportData [ReportDataSize]byte, policy QuotePolicy) error {
	v4Quote, err := ParseQuoteV4(rawQuote)
	if err != nil {
		return err
	}

	if !bytes.Equal(v4Quote.TdQuoteBody.ReportData, expectedReportData[:]) {
		return errors.New("quote report data mismatch")
	}

	if !policy.VerifyChain {
		return nil
	}

	options := verify.DefaultOptions()
	options.GetCollateral = policy.GetCollateral || policy.CheckRevocations
	options.CheckRevocations = policy.CheckRevocations
	if policy.TrustedRoots != nil {
		options.TrustedRoots = policy.TrustedRoots
	}
	if policy.PCCSURL != "" {
		options.Getter = &pccsGetter{base: policy.PCCSURL, next: trust.DefaultHTTPSGetter()}
	}

	if err := verify.TdxQuote(v4Quote, options); err != nil {
		return fmt.Errorf("quote verification failed: %w", err)
	}
	return nil
}
