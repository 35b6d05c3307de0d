package mirror

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSH reaches the controller host as a shell user and reads or deletes files
// under Root.
type SSH struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	Password                    string
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
	Root                        string
}

// Fetch returns the stored bytes of name.
func (m SSH) Fetch(ctx context.Context, name string) ([]byte, error) {
	target, err := RemotePath(m.Root, name)
	if err != nil {
		return nil, err
	}
	out, err := m.run(ctx, "cat", target)
	if err != nil {
		return nil, fmt.Errorf("mirror: fetch %s: %w", target, err)
	}
	return out, nil
}

// Remove deletes the stored copy of name.
func (m SSH) Remove(ctx context.Context, name string) error {
	target, err := RemotePath(m.Root, name)
	if err != nil {
		return err
	}
	if _, err := m.run(ctx, "rm", target); err != nil {
		return fmt.Errorf("mirror: remove %s: %w", target, err)
	}
	return nil
}

func (m SSH) run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	client, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	line := joinCommand(cmd, args)
	log.Debug().Str("host", m.Host).Str("cmd", line).Msg("mirror command")
	if err := session.Run(line); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func (m SSH) dial(ctx context.Context) (*ssh.Client, error) {
	address, err := m.address()
	if err != nil {
		return nil, err
	}

	config, err := m.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: m.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (m SSH) address() (string, error) {
	host := strings.TrimSpace(m.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}

	if m.Port != "" {
		return net.JoinHostPort(host, m.Port), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (m SSH) clientConfig() (*ssh.ClientConfig, error) {
	if m.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	auth, err := m.authMethods()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if m.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := m.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            m.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         m.Timeout,
	}, nil
}

func (m SSH) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if m.KeyPath != "" {
		signer, err := m.signer()
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if m.Password != "" {
		methods = append(methods, ssh.Password(m.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("ssh key path or password is required")
	}
	return methods, nil
}

func (m SSH) signer() (ssh.Signer, error) {
	privateKey, err := os.ReadFile(m.KeyPath)
	if err != nil {
		return nil, err
	}

	if len(m.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, m.Passphrase)
	}

	return ssh.ParsePrivateKey(privateKey)
}

func (m SSH) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(m.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	return knownhosts.New(path)
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
