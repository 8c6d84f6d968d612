package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig names the remote host the Sandbox Manager issues container
// engine commands against (spec.md §6: VPS_HOST/VPS_USER/VPS_SSH_KEY).
type SSHConfig struct {
	Host        string // host[:port]; port defaults to 22
	User        string
	PrivateKey  []byte // PEM-encoded private key contents
	DialTimeout time.Duration
}

// SSHTransport runs commands on a remote host over a single long-lived
// SSH connection, opening one session per Run call — the same
// one-process-per-invocation shape the teacher uses for local Docker
// commands (internal/controller/docker.go's exec.CommandContext calls),
// generalized to a remote shell.
type SSHTransport struct {
	mu     sync.Mutex
	client *ssh.Client
	cfg    SSHConfig
}

// NewSSHTransport dials the remote host and returns a ready Transport.
func NewSSHTransport(cfg SSHConfig) (*SSHTransport, error) {
	signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, newError(KindSSHFailed, "parse private key", err)
	}

	addr := cfg.Host
	if !strings.Contains(addr, ":") {
		addr = addr + ":22"
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = DefaultCommandTimeout
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, classifyDialError(err)
	}

	return &SSHTransport{client: client, cfg: cfg}, nil
}

// Run opens a new session on the shared connection, executes command,
// and collects stdout/stderr/exit code, honoring ctx and timeout.
func (t *SSHTransport) Run(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return "", "", 0, newError(KindSSHFailed, "transport closed", nil)
	}

	session, err := client.NewSession()
	if err != nil {
		return "", "", 0, newError(KindSSHFailed, "open session", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	if err := session.Start(command); err != nil {
		return "", "", 0, newError(KindSSHFailed, "start command", err)
	}
	go func() { done <- session.Wait() }()

	select {
	case <-cctx.Done():
		session.Signal(ssh.SIGKILL)
		return stdoutBuf.String(), stderrBuf.String(), -1, newError(KindTimeout, fmt.Sprintf("command exceeded %s", timeout), cctx.Err())
	case waitErr := <-done:
		exitCode, err := exitCodeFromWaitErr(waitErr)
		if err != nil {
			return stdoutBuf.String(), stderrBuf.String(), exitCode, err
		}
		return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
	}
}

// Close terminates the underlying SSH connection.
func (t *SSHTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func exitCodeFromWaitErr(waitErr error) (int, error) {
	if waitErr == nil {
		return 0, nil
	}
	if exitErr, ok := waitErr.(*ssh.ExitError); ok {
		return exitErr.ExitStatus(), nil
	}
	if waitErr == io.EOF {
		return -1, newError(KindSSHFailed, "connection closed mid-command", waitErr)
	}
	return -1, newError(KindEngineFailed, "command execution failed", waitErr)
}

func classifyDialError(err error) error {
	if err == nil {
		return nil
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return newError(KindTimeout, "dial timed out", err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "permission denied"):
		return newError(KindPermissionDenied, "authentication failed", err)
	default:
		return newError(KindSSHFailed, "dial failed", err)
	}
}

// IsWarningOnlyStderr reports whether stderr consists only of
// WARNING-prefixed lines (and blank lines), which spec.md §4.2 treats as
// informational rather than an error signal.
func IsWarningOnlyStderr(stderr string) bool {
	lines := strings.Split(stderr, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "WARNING") {
			return false
		}
	}
	return true
}
