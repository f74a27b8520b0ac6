package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/tdx-identity-backend/cryptoutils"
	"github.com/ruteri/tdx-identity-backend/interfaces"
)

// Ledger is the registration ledger: a single-writer-per-key store of
// attestation-validated (instance, quote, operator, owner?) tuples. Every
// mutation carries an instance signature; the ledger does not trust the
// caller.
type Ledger struct {
	store    *Store
	verifier QuoteVerifier
	log      *slog.Logger

	mu    sync.Mutex
	locks map[interfaces.Pubkey]*sync.Mutex

	now func() time.Time
}

// NewLedger creates a ledger over the given store and quote verifier.
func NewLedger(store *Store, verifier QuoteVerifier, log *slog.Logger) *Ledger {
	return &Ledger{
		store:    store,
		verifier: verifier,
		log:      log,
		locks:    make(map[interfaces.Pubkey]*sync.Mutex),
		now:      time.Now,
	}
}

// keyLock returns the mutex serializing operations on one instance key.
// Operations on different keys proceed independently.
func (l *Ledger) keyLock(instance interfaces.Pubkey) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lock, ok := l.locks[instance]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[instance] = lock
	return lock
}

// Register implements interfaces.RegistrationLedger. The quote must verify
// per the configured policy and attest over the canonical report data for
// the instance key; the request must be signed by the instance key itself so
// nobody can register a foreign quote under their own entry.
func (l *Ledger) Register(ctx context.Context, instance interfaces.Pubkey, quote []byte, operator interfaces.Pubkey, sig interfaces.Signature) error {
	quoteHash := sha256.Sum256(quote)
	payload := cryptoutils.LedgerRegisterPayload(instance, quoteHash, operator)
	if err := cryptoutils.VerifySignature(instance, payload, sig); err != nil {
		return interfaces.ErrBadSignature
	}

	reportData := cryptoutils.ReportDataForPubkey(instance)
	if err := l.verifier.Verify(quote, reportData); err != nil {
		l.log.Info("rejected attestation quote", "instance", instance.String(), "err", err)
		return interfaces.ErrAttestationRejected
	}

	// The encrypted PPID ties the quote to a physical platform. Type-5 PCK
	// chains don't carry one; that gap is logged, not guessed around.
	if ppid, err := cryptoutils.ExtractEncryptedPPID(quote); err != nil {
		l.log.Warn("could not extract encrypted PPID from quote", "instance", instance.String(), "err", err)
	} else {
		l.log.Info("extracted encrypted PPID", "instance", instance.String(), "ppid_bytes", len(ppid))
	}

	lock := l.keyLock(instance)
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.store.Get(instance)
	if err != nil && err != interfaces.ErrNotFound {
		return fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}
	if existing != nil {
		if !bytes.Equal(existing.Quote, quote) || !existing.OperatorPubkey.Equal(operator) || existing.OwnerPubkey != nil {
			return interfaces.ErrConflict
		}
		// identical payload, nothing to do
		return nil
	}

	entry := &interfaces.LedgerEntry{
		InstancePubkey: instance,
		Quote:          quote,
		OperatorPubkey: operator,
		CreatedAt:      l.now().UTC(),
	}
	if err := l.store.Insert(entry); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}

	l.log.Info("registered instance", "instance", instance.String(), "operator", operator.String())
	return nil
}

// AttachOwner implements interfaces.RegistrationLedger. The entry must exist
// with an operator and no conflicting owner, and the request must be signed
// by the stored instance key.
func (l *Ledger) AttachOwner(ctx context.Context, instance interfaces.Pubkey, owner interfaces.Pubkey, sig interfaces.Signature) error {
	payload := cryptoutils.AttachOwnerPayload(instance, owner)
	if err := cryptoutils.VerifySignature(instance, payload, sig); err != nil {
		return interfaces.ErrBadSignature
	}

	lock := l.keyLock(instance)
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.store.Get(instance)
	if err == interfaces.ErrNotFound {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}
	if existing.OwnerPubkey != nil {
		if existing.OwnerPubkey.Equal(owner) {
			return nil
		}
		return interfaces.ErrConflict
	}

	if err := l.store.SetOwner(instance, owner); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}

	l.log.Info("attached owner", "instance", instance.String(), "owner", owner.String())
	return nil
}

// Lookup implements interfaces.RegistrationLedger.
func (l *Ledger) Lookup(ctx context.Context, instance interfaces.Pubkey) (*interfaces.LedgerEntry, error) {
	return l.store.Get(instance)
}
