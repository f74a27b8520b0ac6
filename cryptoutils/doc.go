// Package cryptoutils provides the cryptographic primitives shared by the
// identity service and the registration ledger: ed25519 principal keys,
// canonical report data construction, domain-separated request payloads,
// owner token and volume key derivation, TDX quote generation and
// verification, and encrypted PPID extraction.
//
// The attestation side follows the standard provider split: a hardware DCAP
// provider, a remote provider for mock quote services, and a dummy provider
// for tests, all behind the AttestationProvider interface selected once at
// start-up.
package cryptoutils
