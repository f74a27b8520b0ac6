// Package registryhandler exposes the registration ledger over HTTP and
// provides the matching typed client.
//
// Endpoints:
//
//	POST /register           - attested instance registration
//	POST /attach_owner       - bind an owner key to an existing entry
//	GET  /instance/{pubkey}  - ledger entry lookup
//
// Byte fields travel as 0x-prefixed hex. Errors come back as
// {"error": "<kind>"} with the status code mapped from the error taxonomy;
// the client converts them back to the sentinel kinds.
package registryhandler
