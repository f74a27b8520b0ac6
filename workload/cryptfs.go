package workload

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Encrypted volume layout: ciphertext lives under the persistence root,
// plaintext is exposed at a fixed mount point the container binds.
const (
	cipherDirName     = "workload-store-encrypted"
	DefaultMountPoint = "/tmp/tdx-workload-persist"
)

// IsMounted checks if the plaintext mount point is currently mounted.
func IsMounted(mountPoint string) bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	return strings.Contains(string(data), " "+mountPoint+" ")
}

// mountEncrypted initializes (on first use) and mounts a gocryptfs volume.
// The root key is handed to gocryptfs through a transient passfile that is
// removed once the mount is up.
func (d *Driver) mountEncrypted(ctx context.Context, rootKey []byte) error {
	cipherDir := filepath.Join(d.storageRoot, cipherDirName)
	if err := os.MkdirAll(cipherDir, 0o700); err != nil {
		return fmt.Errorf("create cipher directory: %w", err)
	}
	if err := os.MkdirAll(d.mountPoint, 0o755); err != nil {
		return fmt.Errorf("create mount point: %w", err)
	}

	passfile, err := os.CreateTemp("", "gocryptfs-key-*")
	if err != nil {
		return fmt.Errorf("create passfile: %w", err)
	}
	defer os.Remove(passfile.Name())

	if err := passfile.Chmod(0o600); err != nil {
		passfile.Close()
		return err
	}
	if _, err := passfile.WriteString(hex.EncodeToString(rootKey)); err != nil {
		passfile.Close()
		return err
	}
	if err := passfile.Close(); err != nil {
		return err
	}

	if _, statErr := os.Stat(filepath.Join(cipherDir, "gocryptfs.conf")); os.IsNotExist(statErr) {
		if _, err := d.run(ctx, "", "gocryptfs", "-init", "-passfile", passfile.Name(), "-q", cipherDir); err != nil {
			return fmt.Errorf("gocryptfs init: %w", err)
		}
	}

	// Unmount a stale mount left by a previous process before remounting.
	if IsMounted(d.mountPoint) {
		d.run(ctx, "", "fusermount", "-u", d.mountPoint)
	}

	if _, err := d.run(ctx, "", "gocryptfs", "-passfile", passfile.Name(), "-allow_other", cipherDir, d.mountPoint); err != nil {
		return fmt.Errorf("gocryptfs mount: %w", err)
	}
	return nil
}

func (d *Driver) unmount(ctx context.Context) error {
	if !IsMounted(d.mountPoint) {
		return nil
	}
	if _, err := d.run(ctx, "", "fusermount", "-u", d.mountPoint); err != nil {
		return fmt.Errorf("unmount: %w", err)
	}
	return nil
}
