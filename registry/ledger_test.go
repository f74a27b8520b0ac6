package registry

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tdx-identity-backend/cryptoutils"
	"github.com/ruteri/tdx-identity-backend/interfaces"
)

// fakeVerifier accepts or rejects every quote.
type fakeVerifier struct {
	err error
}

func (v *fakeVerifier) Verify(rawQuote []byte, expectedReportData [cryptoutils.ReportDataSize]byte) error {
	return v.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T, verifier QuoteVerifier) *Ledger {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewLedger(store, verifier, testLogger())
}

type principals struct {
	instance cryptoutils.SigningKey
	operator cryptoutils.SigningKey
	owner    cryptoutils.SigningKey
	quote    []byte
}

func newPrincipals(t *testing.T) principals {
	t.Helper()
	instance, err := cryptoutils.NewSigningKey()
	require.NoError(t, err)
	operator, err := cryptoutils.NewSigningKey()
	require.NoError(t, err)
	owner, err := cryptoutils.NewSigningKey()
	require.NoError(t, err)
	return principals{
		instance: instance,
		operator: operator,
		owner:    owner,
		quote:    []byte("attestation quote bytes"),
	}
}

func (p principals) registerSig() cryptoutils.Signature {
	quoteHash := sha256.Sum256(p.quote)
	return p.instance.Sign(cryptoutils.LedgerRegisterPayload(p.instance.Public(), quoteHash, p.operator.Public()))
}

func (p principals) attachSig() cryptoutils.Signature {
	return p.instance.Sign(cryptoutils.AttachOwnerPayload(p.instance.Public(), p.owner.Public()))
}

func TestRegisterAndLookup(t *testing.T) {
	ledger := newTestLedger(t, &fakeVerifier{})
	p := newPrincipals(t)
	ctx := context.Background()

	require.NoError(t, ledger.Register(ctx, p.instance.Public(), p.quote, p.operator.Public(), p.registerSig()))

	entry, err := ledger.Lookup(ctx, p.instance.Public())
	require.NoError(t, err)
	assert.Equal(t, p.instance.Public(), entry.InstancePubkey)
	assert.Equal(t, p.quote, []byte(entry.Quote))
	assert.Equal(t, p.operator.Public(), entry.OperatorPubkey)
	assert.Nil(t, entry.OwnerPubkey)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestRegisterBadSignature(t *testing.T) {
	ledger := newTestLedger(t, &fakeVerifier{})
	p := newPrincipals(t)

	// Signed by the operator instead of the instance: nobody can register a
	// foreign quote under their own entry.
	quoteHash := sha256.Sum256(p.quote)
	sig := p.operator.Sign(cryptoutils.LedgerRegisterPayload(p.instance.Public(), quoteHash, p.operator.Public()))

	err := ledger.Register(context.Background(), p.instance.Public(), p.quote, p.operator.Public(), sig)
	assert.ErrorIs(t, err, interfaces.ErrBadSignature)

	_, err = ledger.Lookup(context.Background(), p.instance.Public())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRegisterAttestationRejected(t *testing.T) {
	ledger := newTestLedger(t, &fakeVerifier{err: errors.New("report data mismatch")})
	p := newPrincipals(t)

	err := ledger.Register(context.Background(), p.instance.Public(), p.quote, p.operator.Public(), p.registerSig())
	assert.ErrorIs(t, err, interfaces.ErrAttestationRejected)

	_, err = ledger.Lookup(context.Background(), p.instance.Public())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRegisterIdempotentAndConflicts(t *testing.T) {
	ledger := newTestLedger(t, &fakeVerifier{})
	p := newPrincipals(t)
	ctx := context.Background()

	require.NoError(t, ledger.Register(ctx, p.instance.Public(), p.quote, p.operator.Public(), p.registerSig()))

	// Identical payload is accepted again.
	require.NoError(t, ledger.Register(ctx, p.instance.Public(), p.quote, p.operator.Public(), p.registerSig()))

	// A different operator for the same instance conflicts.
	otherOperator, err := cryptoutils.NewSigningKey()
	require.NoError(t, err)
	quoteHash := sha256.Sum256(p.quote)
	otherSig := p.instance.Sign(cryptoutils.LedgerRegisterPayload(p.instance.Public(), quoteHash, otherOperator.Public()))
	err = ledger.Register(ctx, p.instance.Public(), p.quote, otherOperator.Public(), otherSig)
	assert.ErrorIs(t, err, interfaces.ErrConflict)

	// A different quote for the same instance conflicts.
	otherQuote := []byte("different quote")
	otherQuoteHash := sha256.Sum256(otherQuote)
	otherQuoteSig := p.instance.Sign(cryptoutils.LedgerRegisterPayload(p.instance.Public(), otherQuoteHash, p.operator.Public()))
	err = ledger.Register(ctx, p.instance.Public(), otherQuote, p.operator.Public(), otherQuoteSig)
	assert.ErrorIs(t, err, interfaces.ErrConflict)

	// Once an owner is attached, even the identical registration conflicts.
	require.NoError(t, ledger.AttachOwner(ctx, p.instance.Public(), p.owner.Public(), p.attachSig()))
	err = ledger.Register(ctx, p.instance.Public(), p.quote, p.operator.Public(), p.registerSig())
	assert.ErrorIs(t, err, interfaces.ErrConflict)
}

func TestAttachOwner(t *testing.T) {
	ledger := newTestLedger(t, &fakeVerifier{})
	p := newPrincipals(t)
	ctx := context.Background()

	// No entry yet.
	err := ledger.AttachOwner(ctx, p.instance.Public(), p.owner.Public(), p.attachSig())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, ledger.Register(ctx, p.instance.Public(), p.quote, p.operator.Public(), p.registerSig()))
	require.NoError(t, ledger.AttachOwner(ctx, p.instance.Public(), p.owner.Public(), p.attachSig()))

	entry, err := ledger.Lookup(ctx, p.instance.Public())
	require.NoError(t, err)
	require.NotNil(t, entry.OwnerPubkey)
	assert.Equal(t, p.owner.Public(), *entry.OwnerPubkey)

	// Idempotent for the same owner.
	require.NoError(t, ledger.AttachOwner(ctx, p.instance.Public(), p.owner.Public(), p.attachSig()))

	// Conflict for a different owner.
	otherOwner, err := cryptoutils.NewSigningKey()
	require.NoError(t, err)
	otherSig := p.instance.Sign(cryptoutils.AttachOwnerPayload(p.instance.Public(), otherOwner.Public()))
	err = ledger.AttachOwner(ctx, p.instance.Public(), otherOwner.Public(), otherSig)
	assert.ErrorIs(t, err, interfaces.ErrConflict)
}

func TestAttachOwnerBadSignature(t *testing.T) {
	ledger := newTestLedger(t, &fakeVerifier{})
	p := newPrincipals(t)
	ctx := context.Background()

	require.NoError(t, ledger.Register(ctx, p.instance.Public(), p.quote, p.operator.Public(), p.registerSig()))

	// Signed by the owner key, not the instance key.
	sig := p.owner.Sign(cryptoutils.AttachOwnerPayload(p.instance.Public(), p.owner.Public()))
	err := ledger.AttachOwner(ctx, p.instance.Public(), p.owner.Public(), sig)
	assert.ErrorIs(t, err, interfaces.ErrBadSignature)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	store, err := NewStore(dbPath)
	require.NoError(t, err)

	ledger := NewLedger(store, &fakeVerifier{}, testLogger())
	p := newPrincipals(t)
	ctx := context.Background()
	require.NoError(t, ledger.Register(ctx, p.instance.Public(), p.quote, p.operator.Public(), p.registerSig()))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	entry, err := reopened.Get(p.instance.Public())
	require.NoError(t, err)
	assert.Equal(t, p.operator.Public(), entry.OperatorPubkey)
}
