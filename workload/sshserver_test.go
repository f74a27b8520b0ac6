package workload

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/ruteri/tdx-identity-backend/cryptoutils"
)

func dialSSH(t *testing.T, addr string, key ed25519.PrivateKey) (*ssh.Client, error) {
	t.Helper()
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "owner",
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func TestSSHServerAuth(t *testing.T) {
	ownerPub, ownerPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	owner, err := cryptoutils.NewPubkeyFromBytes(ownerPub)
	require.NoError(t, err)

	srv := newSSHServer(testLogger())
	require.NoError(t, srv.start("127.0.0.1:0", owner))
	defer srv.stop()
	addr := srv.listener.Addr().String()

	// The owner key authenticates.
	client, err := dialSSH(t, addr, ownerPriv)
	require.NoError(t, err)
	client.Close()

	// Any other key is rejected.
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = dialSSH(t, addr, otherPriv)
	assert.Error(t, err)
}

func TestSSHServerStop(t *testing.T) {
	ownerPub, ownerPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	owner, err := cryptoutils.NewPubkeyFromBytes(ownerPub)
	require.NoError(t, err)

	srv := newSSHServer(testLogger())
	require.NoError(t, srv.start("127.0.0.1:0", owner))
	addr := srv.listener.Addr().String()
	require.True(t, srv.running())

	require.NoError(t, srv.stop())
	require.False(t, srv.running())

	// The listener no longer accepts connections.
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		conn.Close()
	}
	_, err = dialSSH(t, addr, ownerPriv)
	assert.Error(t, err)

	// stop is idempotent, and the listener can be started again.
	require.NoError(t, srv.stop())
	require.NoError(t, srv.start("127.0.0.1:0", owner))
	require.NoError(t, srv.stop())
}
