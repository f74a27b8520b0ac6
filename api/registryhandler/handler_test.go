package registryhandler

import (
	"context"
	"crypto/sha256"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tdx-identity-backend/cryptoutils"
	"github.com/ruteri/tdx-identity-backend/interfaces"
	"github.com/ruteri/tdx-identity-backend/registry"
)

type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify(rawQuote []byte, expectedReportData [cryptoutils.ReportDataSize]byte) error {
	return nil
}

func newTestServer(t *testing.T) *Client {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := registry.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ledger := registry.NewLedger(store, acceptAllVerifier{}, log)
	handler := NewHandler(ledger, log)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, srv.Client())
}

func TestClientRegisterAndLookup(t *testing.T) {
	client := newTestServer(t)
	ctx := context.Background()

	instance, err := cryptoutils.NewSigningKey()
	require.NoError(t, err)
	operator, err := cryptoutils.NewSigningKey()
	require.NoError(t, err)

	quote := []byte("quote bytes")
	quoteHash := sha256.Sum256(quote)
	sig := instance.Sign(cryptoutils.LedgerRegisterPayload(instance.Public(), quoteHash, operator.Public()))

	require.NoError(t, client.Register(ctx, instance.Public(), quote, operator.Public(), sig))

	entry, err := client.Lookup(ctx, instance.Public())
	require.NoError(t, err)
	assert.Equal(t, instance.Public(), entry.InstancePubkey)
	assert.Equal(t, quote, []byte(entry.Quote))
	assert.Equal(t, operator.Public(), entry.OperatorPubkey)
	assert.Nil(t, entry.OwnerPubkey)

	owner, err := cryptoutils.NewSigningKey()
	require.NoError(t, err)
	attachSig := instance.Sign(cryptoutils.AttachOwnerPayload(instance.Public(), owner.Public()))
	require.NoError(t, client.AttachOwner(ctx, instance.Public(), owner.Public(), attachSig))

	entry, err = client.Lookup(ctx, instance.Public())
	require.NoError(t, err)
	require.NotNil(t, entry.OwnerPubkey)
	assert.Equal(t, owner.Public(), *entry.OwnerPubkey)
}

func TestClientErrorKinds(t *testing.T) {
	client := newTestServer(t)
	ctx := context.Background()

	instance, err := cryptoutils.NewSigningKey()
	require.NoError(t, err)
	operator, err := cryptoutils.NewSigningKey()
	require.NoError(t, err)

	// Unknown instance.
	_, err = client.Lookup(ctx, instance.Public())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// A signature by the wrong key comes back as the BadSignature kind.
	quote := []byte("quote bytes")
	quoteHash := sha256.Sum256(quote)
	sig := operator.Sign(cryptoutils.LedgerRegisterPayload(instance.Public(), quoteHash, operator.Public()))
	err = client.Register(ctx, instance.Public(), quote, operator.Public(), sig)
	assert.ErrorIs(t, err, interfaces.ErrBadSignature)

	// Conflicting registration surfaces as Conflict.
	goodSig := instance.Sign(cryptoutils.LedgerRegisterPayload(instance.Public(), quoteHash, operator.Public()))
	require.NoError(t, client.Register(ctx, instance.Public(), quote, operator.Public(), goodSig))

	otherQuote := []byte("other quote")
	otherHash := sha256.Sum256(otherQuote)
	otherSig := instance.Sign(cryptoutils.LedgerRegisterPayload(instance.Public(), otherHash, operator.Public()))
	err = client.Register(ctx, instance.Public(), otherQuote, operator.Public(), otherSig)
	assert.ErrorIs(t, err, interfaces.ErrConflict)
}

func TestClientLedgerUnavailable(t *testing.T) {
	// Nothing listening on this address.
	client := NewClient("http://127.0.0.1:1", nil)

	instance, err := cryptoutils.NewSigningKey()
	require.NoError(t, err)
	_, err = client.Lookup(context.Background(), instance.Public())
	assert.ErrorIs(t, err, interfaces.ErrLedgerUnavailable)
}
