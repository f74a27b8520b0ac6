package workload

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/ruteri/tdx-identity-backend/interfaces"
)

// SSHPort is the fixed port of the owner's interactive listener. It accepts
// connections only between workload configuration and exposure.
const SSHPort = 2222

// sshServer is a minimal SSH daemon whose sole authorized key is the owner
// key. Sessions exec into the workload container.
type sshServer struct {
	log *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

func newSSHServer(log *slog.Logger) *sshServer {
	return &sshServer{log: log, conns: make(map[net.Conn]struct{})}
}

// start binds the listener and begins accepting connections. Calling start
// while already running is an error; the state machine never does so.
func (s *sshServer) start(addr string, owner interfaces.Pubkey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("ssh listener already running")
	}

	authorized, err := ssh.NewPublicKey(ed25519.PublicKey(owner[:]))
	if err != nil {
		return fmt.Errorf("owner key: %w", err)
	}
	authorizedBytes := authorized.Marshal()

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorizedBytes) {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("unknown public key")
		},
	}

	// Ephemeral host key; the owner authenticates the instance through the
	// delegation protocol, not through SSH host identity.
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		return fmt.Errorf("host signer: %w", err)
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind ssh listener: %w", err)
	}
	s.listener = listener

	go s.acceptLoop(listener, config)
	s.log.Info("ssh listener started", "addr", addr)
	return nil
}

// stop closes the listener and all in-flight sessions. Idempotent.
func (s *sshServer) stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	if err := s.listener.Close(); err != nil {
		return err
	}
	s.listener = nil

	for conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[net.Conn]struct{})

	s.log.Info("ssh listener stopped")
	return nil
}

// running reports whether the listener is up.
func (s *sshServer) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

func (s *sshServer) acceptLoop(listener net.Listener, config *ssh.ServerConfig) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		// the listener may have been stopped between Accept and here
		if s.listener == nil {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConn(conn, config)
	}
}

func (s *sshServer) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *sshServer) handleConn(conn net.Conn, config *ssh.ServerConfig) {
	defer s.forget(conn)
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		s.log.Debug("ssh handshake failed", "err", err)
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests)
	}
}

// handleSession execs a shell (or a single command) inside the workload
// container and pipes it over the channel.
func (s *sshServer) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			s.runInContainer(channel, "")
			return
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.runInContainer(channel, payload.Command)
			return
		default:
			req.Reply(false, nil)
		}
	}
}

func (s *sshServer) runInContainer(channel ssh.Channel, command string) {
	args := []string{"exec", "-i", ContainerName, "/bin/sh"}
	if command != "" {
		args = append(args, "-c", command)
	}

	cmd := exec.Command("podman", args...)
	cmd.Stdin = channel
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()

	exitStatus := struct{ Status uint32 }{}
	if err := cmd.Run(); err != nil {
		exitStatus.Status = 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitStatus.Status = uint32(exitErr.ExitCode())
		}
	}
	channel.SendRequest("exit-status", false, ssh.Marshal(&exitStatus))
	io.Copy(io.Discard, channel)
}
