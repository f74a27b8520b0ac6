package workload

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"

	"github.com/ruteri/tdx-identity-backend/interfaces"
)

const (
	// ContainerName is the fixed name of the workload container.
	ContainerName = "workload"

	// containerVolumePath is where the encrypted volume appears inside the
	// container.
	containerVolumePath = "/persist"
)

// CommandRunner executes an external command and returns its combined
// output. Injectable so the driver is testable without podman or gocryptfs
// present.
type CommandRunner func(ctx context.Context, stdin string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, stdin string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Driver implements interfaces.WorkloadDriver over the podman CLI, gocryptfs,
// and an embedded SSH listener.
type Driver struct {
	log         *slog.Logger
	run         CommandRunner
	storageRoot string
	mountPoint  string
	sshAddr     string

	ssh *sshServer
}

// NewDriver creates a driver persisting ciphertext under storageRoot.
func NewDriver(log *slog.Logger, storageRoot string) *Driver {
	return &Driver{
		log:         log,
		run:         execRunner,
		storageRoot: storageRoot,
		mountPoint:  DefaultMountPoint,
		sshAddr:     fmt.Sprintf(":%d", SSHPort),
		ssh:         newSSHServer(log),
	}
}

// WithRunner overrides command execution, for tests.
func (d *Driver) WithRunner(run CommandRunner) *Driver {
	d.run = run
	return d
}

// MountEncrypted implements interfaces.WorkloadDriver.
func (d *Driver) MountEncrypted(ctx context.Context, rootKey []byte) error {
	return d.mountEncrypted(ctx, rootKey)
}

// Unmount implements interfaces.WorkloadDriver.
func (d *Driver) Unmount(ctx context.Context) error {
	return d.unmount(ctx)
}

// Launch implements interfaces.WorkloadDriver. Pulls the image, replaces any
// previous container, and starts a new one with the encrypted volume bound.
// Success requires the container to be observably running afterwards.
func (d *Driver) Launch(ctx context.Context, desc interfaces.WorkloadDescriptor, exposed bool) error {
	if _, err := d.run(ctx, "", "podman", "pull", desc.Image); err != nil {
		return fmt.Errorf("pull image: %w", err)
	}

	if _, err := d.run(ctx, "", "podman", "rm", "--force", "--ignore", ContainerName); err != nil {
		return fmt.Errorf("remove previous container: %w", err)
	}

	args := []string{"run", "--detach", "--name", ContainerName,
		"--volume", d.mountPoint + ":" + containerVolumePath}

	keys := make([]string, 0, len(desc.Env))
	for k := range desc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--env", k+"="+desc.Env[k])
	}

	if exposed {
		args = append(args, "--publish", fmt.Sprintf("%d:%d", desc.Port, desc.Port))
	}

	args = append(args, desc.Image)
	args = append(args, desc.Command...)

	if _, err := d.run(ctx, "", "podman", args...); err != nil {
		return fmt.Errorf("run container: %w", err)
	}

	out, err := d.run(ctx, "", "podman", "inspect", "--format", "{{.State.Running}}", ContainerName)
	if err != nil {
		return fmt.Errorf("inspect container: %w", err)
	}
	if strings.TrimSpace(string(out)) != "true" {
		return fmt.Errorf("container %s is not running", ContainerName)
	}

	d.log.Info("workload container running", "image", desc.Image, "exposed", exposed)
	return nil
}

// StopContainer implements interfaces.WorkloadDriver.
func (d *Driver) StopContainer(ctx context.Context) error {
	if _, err := d.run(ctx, "", "podman", "rm", "--force", "--ignore", ContainerName); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// StartSSH implements interfaces.WorkloadDriver.
func (d *Driver) StartSSH(owner interfaces.Pubkey) error {
	return d.ssh.start(d.sshAddr, owner)
}

// StopSSH implements interfaces.WorkloadDriver.
func (d *Driver) StopSSH() error {
	return d.ssh.stop()
}

// Teardown implements interfaces.WorkloadDriver: best-effort stop of the SSH
// listener, the container, and the mount, returning the first hard failure.
func (d *Driver) Teardown(ctx context.Context) error {
	if err := d.ssh.stop(); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrShutdownFailed, err)
	}
	if err := d.StopContainer(ctx); err != nil {
		return err
	}
	return d.unmount(ctx)
}
