// Package common provides shared utilities for the identity and registry
// services, primarily logging setup and build metadata.
package common

// Version is the service version, overridden at build time via
// -ldflags "-X github.com/ruteri/tdx-identity-backend/common.Version=...".
var Version = "dev"
