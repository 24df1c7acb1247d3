package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"dbconnector/internal/connection"

	gossh "golang.org/x/crypto/ssh"
)

const defaultDialTimeout = 15 * time.Second

// Tunnel is an SSH client to a bastion host. Drivers that accept a dialer
// use DialContext; the others connect to a local port opened by Forward.
type Tunnel struct {
	client *gossh.Client

	mu        sync.Mutex
	listeners []net.Listener
	wg        sync.WaitGroup
	closed    bool
}

func clientConfig(cfg connection.SSHConfig, timeout time.Duration) (*gossh.ClientConfig, error) {
	var auths []gossh.AuthMethod
	if keyPath := strings.TrimSpace(cfg.KeyPath); keyPath != "" {
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH private key: %w", err)
		}
		var signer gossh.Signer
		if cfg.Password != "" {
			signer, err = gossh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.Password))
		} else {
			signer, err = gossh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
		}
		auths = append(auths, gossh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auths = append(auths, gossh.Password(cfg.Password))
	}
	if len(auths) == 0 {
		return nil, errors.New("SSH requires a password or a private key")
	}
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &gossh.ClientConfig{
		User:            cfg.User,
		Auth:            auths,
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

func Open(cfg connection.SSHConfig, timeout time.Duration) (*Tunnel, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("SSH host is empty")
	}
	config, err := clientConfig(cfg, timeout)
	if err != nil {
		return nil, err
	}
	port := cfg.Port
	if port <= 0 {
		port = 22
	}
	client, err := gossh.Dial("tcp", net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port)), config)
	if err != nil {
		return nil, fmt.Errorf("SSH connection to %s failed: %w", cfg.Host, err)
	}
	return &Tunnel{client: client}, nil
}

func (t *Tunnel) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "" {
		network = "tcp"
	}
	return t.client.DialContext(ctx, network, addr)
}

// Forward listens on 127.0.0.1 and pipes every accepted connection to
// remoteAddr through the SSH client. It returns the local address.
func (t *Tunnel) Forward(remoteAddr string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", errors.New("SSH tunnel is closed")
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to open local tunnel port: %w", err)
	}
	t.listeners = append(t.listeners, listener)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			local, err := listener.Accept()
			if err != nil {
				return
			}
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.pipe(local, remoteAddr)
			}()
		}
	}()
	return listener.Addr().String(), nil
}

func (t *Tunnel) pipe(local net.Conn, remoteAddr string) {
	defer local.Close()
	remote, err := t.client.Dial("tcp", remoteAddr)
	if err != nil {
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, l := range t.listeners {
		_ = l.Close()
	}
	t.mu.Unlock()

	err := t.client.Close()
	t.wg.Wait()
	return err
}
