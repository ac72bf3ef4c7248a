// Package sshtransport opens a remote shell over SSH with a requested PTY
// and exposes it as a transport.Transport.
//
// Authentication is handled in-protocol here (password, private key,
// agent); contrast with running the ssh binary under ptytransport, where
// credentials flow through the terminal stream instead.
package sshtransport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/marinerapp/mariner/internal/transport"
)

const readBufSize = 4096

// Options configures the SSH connection and remote PTY.
type Options struct {
	Host string
	Port int // default 22
	User string

	// Authentication, tried in order: agent (if available), private key
	// (if KeyPath set), password (if set).
	Password      string
	KeyPath       string
	KeyPassphrase string

	// StrictHostKey rejects hosts missing from known_hosts. When false,
	// unknown hosts are accepted and a warning is logged.
	StrictHostKey bool

	DialTimeout time.Duration // default 15s
	Term        string        // default "dumb"
	Rows        int           // default 24
	Cols        int           // default 120
}

// SSH is a remote shell session over an SSH connection.
type SSH struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	out     chan transport.Chunk

	closeOnce sync.Once
	closeErr  error
}

// Dial connects, requests a PTY, starts the remote shell and begins pumping
// its output.
func Dial(opts Options) (*SSH, error) {
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 15 * time.Second
	}
	if opts.Term == "" {
		opts.Term = "dumb"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 120
	}

	auth, err := authMethods(opts)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback(opts),
		Timeout:         opts.DialTimeout,
	}

	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("new session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, opts.Rows, opts.Cols, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	t := &SSH{
		client:  client,
		session: session,
		stdin:   stdin,
		out:     make(chan transport.Chunk, 32),
	}
	go t.pump(stdout)

	slog.Debug("ssh transport started", "host", opts.Host, "user", opts.User)
	return t, nil
}

func (t *SSH) pump(stdout io.Reader) {
	defer close(t.out)

	buf := make([]byte, readBufSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			t.out <- transport.Chunk{Source: t, Data: data}
		}
		if err != nil {
			return
		}
	}
}

// Write sends bytes to the remote shell's input.
func (t *SSH) Write(b []byte) (int, error) {
	return t.stdin.Write(b)
}

// Output returns the remote terminal output channel.
func (t *SSH) Output() <-chan transport.Chunk {
	return t.out
}

// Wait blocks until the remote shell exits.
func (t *SSH) Wait() error {
	return t.session.Wait()
}

// Close shuts down the session and the connection.
func (t *SSH) Close() error {
	t.closeOnce.Do(func() {
		t.session.Close()
		t.closeErr = t.client.Close()
	})
	return t.closeErr
}

func authMethods(opts Options) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if opts.KeyPath != "" {
		keyData, err := os.ReadFile(expandPath(opts.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		var signer ssh.Signer
		if opts.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(opts.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
		methods = append(methods, ssh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = opts.Password
				}
				return answers, nil
			}))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication methods available for %s@%s", opts.User, opts.Host)
	}
	return methods, nil
}

func hostKeyCallback(opts Options) ssh.HostKeyCallback {
	knownHosts := expandPath("~/.ssh/known_hosts")
	cb, err := knownhosts.New(knownHosts)
	if err != nil {
		if opts.StrictHostKey {
			return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
				return fmt.Errorf("known_hosts unavailable: %w", err)
			}
		}
		slog.Warn("known_hosts unavailable, host keys not verified", "error", err)
		return ssh.InsecureIgnoreHostKey()
	}

	if opts.StrictHostKey {
		return cb
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := cb(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		// A mismatched key is always fatal; an unknown host is accepted
		// in non-strict mode.
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			slog.Warn("accepting unknown host key", "host", hostname)
			return nil
		}
		return err
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

var _ transport.Transport = (*SSH)(nil)
