package cryptoutils

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	tdx_client "github.com/google/go-tdx-guest/client"
)

// AttestationProvider produces TDX quotes over report data. Exactly one
// implementation is selected at start-up by configuration: hardware DCAP,
// the remote mock endpoint, or the dummy provider for tests.
type AttestationProvider interface {
	AttestationType() string
	Attest(reportData [ReportDataSize]byte) ([]byte, error)
}

const (
	// DCAPAttestation identifies quotes produced by local TDX hardware.
	DCAPAttestation = "qemu-tdx"

	// RemoteAttestation identifies quotes fetched from a mock quote service.
	RemoteAttestation = "remote-mock"

	// DummyAttestation identifies unverifiable placeholder quotes for tests.
	DummyAttestation = "dummy"
)

// DCAPAttestationProvider requests quotes from local TDX hardware, preferring
// the configfs-tsm interface and falling back to /dev/tdx_guest.
type DCAPAttestationProvider struct{}

func (DCAPAttestationProvider) AttestationType() string { return DCAPAttestation }

func (DCAPAttestationProvider) Attest(reportData [ReportDataSize]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

// IsTDXAvailable reports whether a local quote source is present.
func IsTDXAvailable() bool {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return true
	}
	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return false
	}
	qd.Close()
	return true
}

// RemoteAttestationProvider fetches pre-canned quotes from a mock TDX
// service via GET {Address}/attest/{report_data_hex}.
type RemoteAttestationProvider struct {
	Address string
	Client  *http.Client
}

func (*RemoteAttestationProvider) AttestationType() string { return RemoteAttestation }

func (p *RemoteAttestationProvider) Attest(reportData [ReportDataSize]byte) ([]byte, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	url := fmt.Sprintf("%s/attest/%s", p.Address, hex.EncodeToString(reportData[:]))
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}

// DummyAttestationProvider returns a fake quote embedding the report data.
// Only usable against a verifier that skips quote parsing entirely.
type DummyAttestationProvider struct{}

func (DummyAttestationProvider) AttestationType() string { return DummyAttestation }

func (DummyAttestationProvider) Attest(reportData [ReportDataSize]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("dummy attestation over %x", reportData)), nil
}
