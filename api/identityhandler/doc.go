// Package identityhandler exposes the identity state machine over HTTP and
// provides a client that signs the canonical payloads on behalf of an
// operator or owner.
//
// Endpoints:
//
//	GET  /instance/pubkey     - instance identifier, always available
//	POST /operator/register   - Fresh -> OperatorRegistered, returns owner token
//	POST /owner/register      - OperatorRegistered -> OwnerRegistered
//	POST /workload/configure  - OwnerRegistered -> WorkloadConfigured
//	POST /workload/expose     - WorkloadConfigured -> WorkloadExposed
package identityhandler
