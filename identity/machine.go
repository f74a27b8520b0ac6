package identity

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/tdx-identity-backend/cryptoutils"
	"github.com/ruteri/tdx-identity-backend/interfaces"
)

// DefaultCallTimeout bounds every outbound call a transition makes: quote
// generation, ledger HTTP, and workload driver actions.
const DefaultCallTimeout = 60 * time.Second

// MachineConfig wires the state machine's collaborators.
type MachineConfig struct {
	Log      *slog.Logger
	Store    *Store
	Attester cryptoutils.AttestationProvider
	Ledger   interfaces.RegistrationLedger
	Driver   interfaces.WorkloadDriver

	// CallTimeout overrides DefaultCallTimeout if positive.
	CallTimeout time.Duration
}

// Machine drives the per-instance delegation progression. A single mutex
// covers check-state, verification, side effects, and persistence of every
// transition, so concurrent requests for the same edge resolve to exactly
// one winner. Reading the instance public key takes no lock.
type Machine struct {
	log         *slog.Logger
	store       *Store
	attester    cryptoutils.AttestationProvider
	ledger      interfaces.RegistrationLedger
	driver      interfaces.WorkloadDriver
	callTimeout time.Duration

	key    cryptoutils.SigningKey
	pubkey cryptoutils.Pubkey

	mu     sync.Mutex
	record Record
}

// NewMachine loads or creates the instance identity, adopts the persisted
// state verbatim, and reconciles the workload subsystems to match it. No
// transition is ever re-executed on boot.
func NewMachine(ctx context.Context, cfg MachineConfig) (*Machine, error) {
	key, err := cfg.Store.LoadOrCreateKey()
	if err != nil {
		return nil, err
	}

	record, err := cfg.Store.LoadRecord()
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &Record{State: interfaces.StateFresh}
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	m := &Machine{
		log:         cfg.Log,
		store:       cfg.Store,
		attester:    cfg.Attester,
		ledger:      cfg.Ledger,
		driver:      cfg.Driver,
		callTimeout: timeout,
		key:         key,
		pubkey:      key.Public(),
		record:      *record,
	}

	if err := m.reconcile(ctx); err != nil {
		return nil, err
	}

	m.log.Info("identity state machine ready", "instance", m.pubkey.String(), "state", m.record.State.String())
	return m, nil
}

// reconcile re-establishes the world the persisted state describes. Below
// WorkloadConfigured any orphan container, listener, or mount from a crash
// mid-transition is torn down; from WorkloadConfigured on, the volume,
// container, and (pre-expose only) the SSH listener are brought back up.
func (m *Machine) reconcile(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	if m.record.State < interfaces.StateWorkloadConfigured {
		if err := m.driver.Teardown(ctx); err != nil {
			return fmt.Errorf("boot teardown: %w", err)
		}
		return nil
	}

	desc := *m.record.Workload
	rootKey := cryptoutils.DeriveVolumeKey(desc.VolumeSecret, m.pubkey)
	if err := m.driver.MountEncrypted(ctx, rootKey); err != nil {
		return fmt.Errorf("boot mount: %w", err)
	}

	exposed := m.record.State == interfaces.StateWorkloadExposed
	if err := m.driver.Launch(ctx, desc, exposed); err != nil {
		return fmt.Errorf("boot launch: %w", err)
	}

	if !exposed {
		if err := m.driver.StartSSH(m.record.Owner.OwnerPubkey); err != nil {
			return fmt.Errorf("boot ssh: %w", err)
		}
	}
	return nil
}

// InstancePubkey returns the instance's stable identifier. Lock-free.
func (m *Machine) InstancePubkey() cryptoutils.Pubkey {
	return m.pubkey
}

// State returns the current state.
func (m *Machine) State() interfaces.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.State
}

func (m *Machine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.callTimeout)
}

// RegisterOperator handles the Fresh -> OperatorRegistered edge: verify the
// operator's claim over this instance, register the attested identity with
// the ledger, persist, and hand back the derived owner token.
func (m *Machine) RegisterOperator(ctx context.Context, operator cryptoutils.Pubkey, sig cryptoutils.Signature) (cryptoutils.OwnerToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.record.State != interfaces.StateFresh {
		return cryptoutils.OwnerToken{}, interfaces.ErrWrongState
	}

	payload := cryptoutils.RegisterOperatorPayload(m.pubkey, operator)
	if err := cryptoutils.VerifySignature(operator, payload, sig); err != nil {
		return cryptoutils.OwnerToken{}, interfaces.ErrBadSignature
	}

	reportData := cryptoutils.ReportDataForPubkey(m.pubkey)
	quote, err := m.attester.Attest(reportData)
	if err != nil {
		m.log.Error("quote generation failed", "err", err)
		return cryptoutils.OwnerToken{}, interfaces.ErrAttestationRejected
	}

	quoteHash := sha256.Sum256(quote)
	ledgerSig := m.key.Sign(cryptoutils.LedgerRegisterPayload(m.pubkey, quoteHash, operator))

	callCtx, cancel := m.callCtx(ctx)
	defer cancel()
	if err := m.ledger.Register(callCtx, m.pubkey, quote, operator, ledgerSig); err != nil {
		if kind := interfaces.ErrorKind(err); kind != nil {
			return cryptoutils.OwnerToken{}, kind
		}
		m.log.Error("ledger registration failed", "err", err)
		return cryptoutils.OwnerToken{}, interfaces.ErrLedgerUnavailable
	}

	record := m.record
	record.State = interfaces.StateOperatorRegistered
	record.Operator = &interfaces.OperatorRecord{OperatorPubkey: operator}
	if err := m.store.SaveRecord(&record); err != nil {
		return cryptoutils.OwnerToken{}, fmt.Errorf("persist operator record: %w", err)
	}
	m.record = record

	m.log.Info("operator registered", "operator", operator.String())
	return cryptoutils.DeriveOwnerToken(m.key, operator), nil
}

// RegisterOwner handles OperatorRegistered -> OwnerRegistered: check the
// one-shot owner token in constant time, verify the owner signature, and
// bind the owner key into the ledger entry before persisting.
func (m *Machine) RegisterOwner(ctx context.Context, owner cryptoutils.Pubkey, token cryptoutils.OwnerToken, sig cryptoutils.Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.record.State != interfaces.StateOperatorRegistered {
		return interfaces.ErrWrongState
	}

	expected := cryptoutils.DeriveOwnerToken(m.key, m.record.Operator.OperatorPubkey)
	if !expected.Equal(token) {
		return interfaces.ErrBadToken
	}

	payload := cryptoutils.RegisterOwnerPayload(m.pubkey, owner)
	if err := cryptoutils.VerifySignature(owner, payload, sig); err != nil {
		return interfaces.ErrBadSignature
	}

	attachSig := m.key.Sign(cryptoutils.AttachOwnerPayload(m.pubkey, owner))

	callCtx, cancel := m.callCtx(ctx)
	defer cancel()
	if err := m.ledger.AttachOwner(callCtx, m.pubkey, owner, attachSig); err != nil {
		if kind := interfaces.ErrorKind(err); kind != nil {
			return kind
		}
		m.log.Error("ledger owner attach failed", "err", err)
		return interfaces.ErrLedgerUnavailable
	}

	record := m.record
	record.State = interfaces.StateOwnerRegistered
	record.Owner = &interfaces.OwnerRecord{OwnerPubkey: owner}
	if err := m.store.SaveRecord(&record); err != nil {
		return fmt.Errorf("persist owner record: %w", err)
	}
	m.record = record

	m.log.Info("owner registered", "owner", owner.String())
	return nil
}

// ConfigureWorkload handles OwnerRegistered -> WorkloadConfigured: mount the
// owner-keyed encrypted volume, launch the container, and open SSH for the
// owner. Side effects roll back if any later step fails; persistence happens
// only once all of them are up.
func (m *Machine) ConfigureWorkload(ctx context.Context, desc interfaces.WorkloadDescriptor, sig cryptoutils.Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.record.State != interfaces.StateOwnerRegistered {
		return interfaces.ErrWrongState
	}

	if err := desc.Validate(); err != nil {
		return err
	}

	payload := cryptoutils.ConfigureWorkloadPayload(m.pubkey, desc.Hash())
	if err := cryptoutils.VerifySignature(m.record.Owner.OwnerPubkey, payload, sig); err != nil {
		return interfaces.ErrBadSignature
	}

	callCtx, cancel := m.callCtx(ctx)
	defer cancel()

	rootKey := cryptoutils.DeriveVolumeKey(desc.VolumeSecret, m.pubkey)
	if err := m.driver.MountEncrypted(callCtx, rootKey); err != nil {
		m.log.Error("volume mount failed", "err", err)
		return interfaces.ErrMountFailed
	}

	if err := m.driver.Launch(callCtx, desc, false); err != nil {
		m.log.Error("workload launch failed", "err", err)
		m.rollbackWorkload(callCtx)
		return interfaces.ErrLaunchFailed
	}

	if err := m.driver.StartSSH(m.record.Owner.OwnerPubkey); err != nil {
		m.log.Error("ssh start failed", "err", err)
		m.rollbackWorkload(callCtx)
		return interfaces.ErrLaunchFailed
	}

	record := m.record
	record.State = interfaces.StateWorkloadConfigured
	record.Workload = &desc
	if err := m.store.SaveRecord(&record); err != nil {
		m.rollbackWorkload(callCtx)
		return fmt.Errorf("persist workload descriptor: %w", err)
	}
	m.record = record

	m.log.Info("workload configured", "image", desc.Image, "port", desc.Port)
	return nil
}

// ExposeWorkload handles WorkloadConfigured -> WorkloadExposed, the terminal
// edge: retract the SSH listener and relaunch the container with its port
// published. A failed relaunch restores the listener so the persisted state
// stays accurate.
func (m *Machine) ExposeWorkload(ctx context.Context, sig cryptoutils.Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.record.State != interfaces.StateWorkloadConfigured {
		return interfaces.ErrWrongState
	}

	desc := *m.record.Workload
	payload := cryptoutils.ExposeWorkloadPayload(m.pubkey, desc.Hash())
	if err := cryptoutils.VerifySignature(m.record.Owner.OwnerPubkey, payload, sig); err != nil {
		return interfaces.ErrBadSignature
	}

	callCtx, cancel := m.callCtx(ctx)
	defer cancel()

	if err := m.driver.StopSSH(); err != nil {
		m.log.Error("ssh stop failed", "err", err)
		return interfaces.ErrShutdownFailed
	}

	if err := m.driver.Launch(callCtx, desc, true); err != nil {
		m.log.Error("exposed relaunch failed", "err", err)
		if sshErr := m.driver.StartSSH(m.record.Owner.OwnerPubkey); sshErr != nil {
			m.log.Error("ssh restore after failed expose", "err", sshErr)
		}
		return interfaces.ErrShutdownFailed
	}

	record := m.record
	record.State = interfaces.StateWorkloadExposed
	if err := m.store.SaveRecord(&record); err != nil {
		return fmt.Errorf("persist exposed state: %w", err)
	}
	m.record = record

	m.log.Info("workload exposed", "port", desc.Port)
	return nil
}

// rollbackWorkload undoes partial configure side effects so the observable
// world matches the persisted state before the error returns.
func (m *Machine) rollbackWorkload(ctx context.Context) {
	if err := m.driver.Teardown(ctx); err != nil {
		m.log.Error("rollback teardown failed", "err", err)
	}
}
