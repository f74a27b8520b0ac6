package registryhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ruteri/tdx-identity-backend/interfaces"
)

// Client is the HTTP client for the registration ledger, implementing
// interfaces.RegistrationLedger for the identity service. Transport errors
// surface as LedgerUnavailable; ledger rejections come back as their kinds.
type Client struct {
	BaseURL string
	Client  *http.Client
}

// NewClient creates a ledger client for the given base URL.
func NewClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, Client: client}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	return decodeErrorKind(resp)
}

func decodeErrorKind(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if kind := interfaces.KindFromString(errResp.Error); kind != nil {
			return kind
		}
	}
	return interfaces.KindForStatus(resp.StatusCode)
}

// Register implements interfaces.RegistrationLedger.
func (c *Client) Register(ctx context.Context, instance interfaces.Pubkey, quote []byte, operator interfaces.Pubkey, sig interfaces.Signature) error {
	return c.post(ctx, "/register", RegisterRequest{
		InstancePubkey: instance,
		Quote:          quote,
		OperatorPubkey: operator,
		Signature:      sig,
	})
}

// AttachOwner implements interfaces.RegistrationLedger.
func (c *Client) AttachOwner(ctx context.Context, instance interfaces.Pubkey, owner interfaces.Pubkey, sig interfaces.Signature) error {
	return c.post(ctx, "/attach_owner", AttachOwnerRequest{
		InstancePubkey: instance,
		OwnerPubkey:    owner,
		Signature:      sig,
	})
}

// Lookup implements interfaces.RegistrationLedger.
func (c *Client) Lookup(ctx context.Context, instance interfaces.Pubkey) (*interfaces.LedgerEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/instance/"+instance.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeErrorKind(resp)
	}

	var entry interfaces.LedgerEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode ledger entry: %w", err)
	}
	return &entry, nil
}

var _ interfaces.RegistrationLedger = (*Client)(nil)
