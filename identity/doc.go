// Package identity implements the per-instance delegation state machine and
// its durable storage.
//
// The machine walks Fresh -> OperatorRegistered -> OwnerRegistered ->
// WorkloadConfigured -> WorkloadExposed, one-way and one step at a time.
// Every edge is gated by a signature, token, or attestation check, and every
// committed edge is persisted atomically before the response returns, after
// external side effects succeeded. On restart the persisted state is adopted
// verbatim and the workload subsystems are reconciled to match it.
package identity
