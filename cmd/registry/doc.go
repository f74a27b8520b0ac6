// The registry binary serves the central registration ledger. Instances
// register their attested identities here; operators and owners query it to
// audit the delegation chain.
//
// Configuration comes from flags or the environment: REGISTRY_DB_PATH,
// SKIP_TDX_AUTH (testing only), PCCS_URL.
package main
