// Package registry implements the registration ledger: a SQLite-backed,
// per-key-serialized store of attestation-validated instance records.
//
// An entry is created by Register, which demands an instance-signed request,
// a quote that verifies against the configured root of trust, and report
// data matching the canonical construction over the instance public key.
// AttachOwner later binds the owner key, again under an instance signature.
// Both mutations are idempotent for identical payloads and fail with
// Conflict otherwise.
package registry
