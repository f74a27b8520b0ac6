// The identity binary serves the per-instance delegation API inside a TDX
// VM. It owns the instance keypair, walks the five-state progression from
// Fresh to WorkloadExposed, and drives the encrypted volume, container, and
// SSH subsystems on each transition.
//
// Configuration comes from flags or the environment: STORAGE_PATH,
// MOCK_TDX_URL, REGISTRY_URL. Start-up fails (non-zero exit) on corrupted
// persisted state, a port bind failure, or a missing TDX device when no
// mock is configured.
package main
