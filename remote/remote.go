// Package remote runs configuration commands on hosts over SSH.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/tracekit/tracekit/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	PolicyKnownHosts = "known-hosts"
	PolicyAcceptAny  = "accept-any"

	defaultPort = "22"
)

// Output is what a remote command printed.
type Output struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
}

type Options struct {
	Username        string
	Password        string
	HostKeyCallback ssh.HostKeyCallback
	Timeout         time.Duration
}

// HostKeyCallback builds the host key check for policy. known-hosts verifies
// against file, or ~/.ssh/known_hosts when file is empty. accept-any trusts
// every key and says so on every connection.
func HostKeyCallback(policy, file string) (ssh.HostKeyCallback, error) {
	switch policy {
	case PolicyKnownHosts, "":
		if file == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, log.Errorf("cannot locate known_hosts: %w", err)
			}
			file = filepath.Join(home, ".ssh", "known_hosts")
		}
		cb, err := knownhosts.New(file)
		if err != nil {
			return nil, log.Errorf("failed to load known hosts %s: %w", file, err)
		}
		return cb, nil
	case PolicyAcceptAny:
		return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
			log.Warnf("Accepting %s host key %s of %s without verification",
				key.Type(), ssh.FingerprintSHA256(key), hostname)
			return nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown host key policy %q", policy)
	}
}

// Configurator opens one SSH session per command. There is no retry and no
// connection reuse.
type Configurator struct {
	cfg     *ssh.ClientConfig
	timeout time.Duration
}

func NewConfigurator(opts Options) (*Configurator, error) {
	if opts.Username == "" || opts.Password == "" {
		return nil, errors.New("ssh username and password are required")
	}
	if opts.HostKeyCallback == nil {
		return nil, errors.New("ssh host key callback is required")
	}
	return &Configurator{
		cfg: &ssh.ClientConfig{
			User:            opts.Username,
			Auth:            []ssh.AuthMethod{ssh.Password(opts.Password)},
			HostKeyCallback: opts.HostKeyCallback,
			Timeout:         opts.Timeout,
		},
		timeout: opts.Timeout,
	}, nil
}

// Address appends the SSH port to host unless it already has one.
func Address(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, defaultPort)
}

// Run executes command on host. A command exiting non-zero is not an error,
// its status is reported in Output.
func (c *Configurator) Run(ctx context.Context, host, command string) (Output, error) {
	var out Output
	addr := Address(host)
	log.Infof("Configuration of host: %s", host)

	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return out, log.Errorf("failed to connect to %s: %w", addr, err)
	}
	if c.timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}
	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, c.cfg)
	if err != nil {
		conn.Close()
		return out, log.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})
	client := ssh.NewClient(sc, chans, reqs)
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return out, log.Errorf("failed to open session on %s: %w", addr, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(command)
	out.Stdout = stdout.Bytes()
	out.Stderr = stderr.Bytes()

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitStatus = exitErr.ExitStatus()
		log.Warnf("Command on %s exited with status %d", host, out.ExitStatus)
	default:
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return out, log.Errorf("command on %s failed: %w", host, err)
	}

	if len(out.Stdout) > 0 {
		log.Infof("Command output: \n%s", out.Stdout)
	}
	if len(out.Stderr) > 0 {
		log.Warnf("Command error output: \n%s", out.Stderr)
	}
	return out, nil
}

// Persist stores out in dir as <name>.out and <name>.err. Empty streams are
// not written and dir is only created when there is something to write.
func Persist(dir, name string, out Output) error {
	if len(out.Stdout) == 0 && len(out.Stderr) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return log.Errorf("failed to create %s: %w", dir, err)
	}
	if len(out.Stdout) > 0 {
		if err := os.WriteFile(filepath.Join(dir, name+".out"), out.Stdout, 0o644); err != nil {
			return log.Errorf("failed to save output of %s: %w", name, err)
		}
	}
	if len(out.Stderr) > 0 {
		if err := os.WriteFile(filepath.Join(dir, name+".err"), out.Stderr, 0o644); err != nil {
			return log.Errorf("failed to save error output of %s: %w", name, err)
		}
	}
	return nil
}
