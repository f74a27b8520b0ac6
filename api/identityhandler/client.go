package identityhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ruteri/tdx-identity-backend/cryptoutils"
	"github.com/ruteri/tdx-identity-backend/interfaces"
)

// Client drives an identity service on behalf of an operator or owner. It
// fetches the instance key, builds the canonical payloads, and signs them
// with the caller's key. Used by tooling and tests.
type Client struct {
	BaseURL string
	Client  *http.Client
}

// NewClient creates an identity service client for the given base URL.
func NewClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, Client: client}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
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
		return fmt.Errorf("request identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			if kind := interfaces.KindFromString(errResp.Error); kind != nil {
				return kind
			}
		}
		return fmt.Errorf("identity service returned %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// InstancePubkey fetches the instance public key.
func (c *Client) InstancePubkey(ctx context.Context) (cryptoutils.Pubkey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/instance/pubkey", nil)
	if err != nil {
		return cryptoutils.Pubkey{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return cryptoutils.Pubkey{}, fmt.Errorf("request identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cryptoutils.Pubkey{}, fmt.Errorf("identity service returned %d", resp.StatusCode)
	}

	var pkResp PubkeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&pkResp); err != nil {
		return cryptoutils.Pubkey{}, fmt.Errorf("decode response: %w", err)
	}
	return pkResp.Pubkey, nil
}

// RegisterOperator signs the operator claim and registers it, returning the
// owner token to hand off.
func (c *Client) RegisterOperator(ctx context.Context, operator cryptoutils.SigningKey) (string, error) {
	instance, err := c.InstancePubkey(ctx)
	if err != nil {
		return "", err
	}

	sig := operator.Sign(cryptoutils.RegisterOperatorPayload(instance, operator.Public()))
	var resp RegisterOperatorResponse
	if err := c.post(ctx, "/operator/register", RegisterOperatorRequest{
		OperatorPubkey: operator.Public(),
		Signature:      sig,
	}, &resp); err != nil {
		return "", err
	}
	return resp.OwnerToken, nil
}

// RegisterOwner registers the owner key using the operator-provided token.
func (c *Client) RegisterOwner(ctx context.Context, owner cryptoutils.SigningKey, ownerToken string) error {
	instance, err := c.InstancePubkey(ctx)
	if err != nil {
		return err
	}

	sig := owner.Sign(cryptoutils.RegisterOwnerPayload(instance, owner.Public()))
	return c.post(ctx, "/owner/register", RegisterOwnerRequest{
		OwnerPubkey: owner.Public(),
		OwnerToken:  ownerToken,
		Signature:   sig,
	}, nil)
}

// ConfigureWorkload signs and submits the workload descriptor.
func (c *Client) ConfigureWorkload(ctx context.Context, owner cryptoutils.SigningKey, desc interfaces.WorkloadDescriptor) error {
	instance, err := c.InstancePubkey(ctx)
	if err != nil {
		return err
	}

	sig := owner.Sign(cryptoutils.ConfigureWorkloadPayload(instance, desc.Hash()))
	return c.post(ctx, "/workload/configure", ConfigureWorkloadRequest{
		Descriptor: desc,
		Signature:  sig,
	}, nil)
}

// ExposeWorkload signs and submits the expose request for the configured
// descriptor.
func (c *Client) ExposeWorkload(ctx context.Context, owner cryptoutils.SigningKey, desc interfaces.WorkloadDescriptor) error {
	instance, err := c.InstancePubkey(ctx)
	if err != nil {
		return err
	}

	sig := owner.Sign(cryptoutils.ExposeWorkloadPayload(instance, desc.Hash()))
	return c.post(ctx, "/workload/expose", ExposeWorkloadRequest{Signature: sig}, nil)
}
