// Package workload drives the owner workload's runtime environment: a
// gocryptfs-encrypted volume under the persistence root, a podman container
// launched from the workload descriptor, and an SSH listener on port 2222
// that grants the owner shell access into the container until the workload
// is exposed.
//
// All external tools are invoked through an injectable CommandRunner so the
// driver is testable on machines without podman or gocryptfs.
package workload
