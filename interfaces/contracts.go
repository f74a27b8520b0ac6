package interfaces

import "context"

// RegistrationLedger is the attestation-validated registry of instances.
// Implemented directly by the registry service's ledger and, over HTTP, by
// the registry client the identity service uses. Every mutation carries its
// own cryptographic proof; the ledger does not trust the caller.
type RegistrationLedger interface {
	// Register stores an entry for an instance after verifying the
	// instance signature, the quote, and the report data binding.
	// Idempotent for identical payloads; Conflict otherwise.
	Register(ctx context.Context, instance Pubkey, quote []byte, operator Pubkey, sig Signature) error

	// AttachOwner binds an owner key to an existing entry, authenticated by
	// an instance signature. Idempotent for the same owner key.
	AttachOwner(ctx context.Context, instance Pubkey, owner Pubkey, sig Signature) error

	// Lookup returns the entry for an instance, or ErrNotFound.
	Lookup(ctx context.Context, instance Pubkey) (*LedgerEntry, error)
}

// WorkloadDriver stands up and tears down the owner workload: the encrypted
// volume, the container, and the pre-expose SSH listener. Each call returns
// only once the underlying action is observable, so the state machine can
// roll back on failure. The driver holds no reference back to the state
// machine; it is driven purely through commands.
type WorkloadDriver interface {
	// MountEncrypted mounts the encrypted volume at the driver's fixed
	// plaintext path using the given root key, initializing it on first use.
	MountEncrypted(ctx context.Context, rootKey []byte) error

	// Unmount unmounts the encrypted volume if mounted.
	Unmount(ctx context.Context) error

	// Launch pulls and (re)starts the workload container with the encrypted
	// volume mounted. The descriptor port is published on the host only when
	// exposed is true.
	Launch(ctx context.Context, desc WorkloadDescriptor, exposed bool) error

	// StopContainer stops and removes the workload container if present.
	StopContainer(ctx context.Context) error

	// StartSSH starts the SSH listener whose sole authorized key is owner.
	StartSSH(owner Pubkey) error

	// StopSSH closes the SSH listener and any in-flight sessions.
	// Idempotent.
	StopSSH() error

	// Teardown stops the SSH listener and container and unmounts the
	// volume, ignoring what of the three is actually up. Used by rollback
	// and boot reconciliation.
	Teardown(ctx context.Context) error
}
