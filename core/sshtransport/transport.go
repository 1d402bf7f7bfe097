// Package sshtransport wires a tunconf.HopSpec to a live SSH connection
// and exposes the two operations the rest of the broker needs: opening
// direct-tcpip channels for relayed flows, and handing back a stream
// that can itself be SSH-handshaked again (bridge mode's second hop).
package sshtransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sockstun/sockstun/core/tunconf"
)

const defaultClientVersion = "SSH-2.0-sockstun"

// Transport wraps one live SSH client connection to a single hop.
type Transport struct {
	hop    tunconf.HopSpec
	client *ssh.Client

	mu sync.RWMutex
}

// Dial performs the SSH handshake against hop. If sock is non-nil, the
// handshake runs over that stream instead of opening a fresh TCP
// connection -- this is how bridge mode layers a second SSH session on
// top of a direct-tcpip channel already open through the first hop.
func Dial(ctx context.Context, hop tunconf.HopSpec, sock net.Conn) (*Transport, error) {
	authManager := NewAuthManager()

	authMethods, err := authManager.GetAuthMethods(hop)
	if err != nil {
		return nil, fmt.Errorf("no authentication methods available for %s: %w", hop.Addr(), err)
	}

	policy := hop.Extensions["host_key_policy"]
	hostKeyCallback, err := authManager.HostKeyCallback(policy, hop.Extensions["known_hosts_file"])
	if err != nil {
		return nil, fmt.Errorf("failed to build host key callback: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            hop.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		ClientVersion:   defaultClientVersion,
		Timeout:         15 * time.Second,
	}

	conn := sock
	if conn == nil {
		dialer := &net.Dialer{Timeout: clientConfig.Timeout}
		conn, err = dialer.DialContext(ctx, "tcp", hop.Addr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", hop.Addr(), err)
		}
	}

	sshConn, channels, requests, err := ssh.NewClientConn(conn, hop.Addr(), clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", hop.Addr(), err)
	}

	client := ssh.NewClient(sshConn, channels, requests)
	return &Transport{hop: hop, client: client}, nil
}

// OpenDirectTCPIP opens a direct-tcpip channel to destAddr over this
// transport's SSH connection. The returned net.Conn IS the channel; it
// can be handed straight to a Relay, or -- in bridge mode -- back into
// Dial as the sock for a second handshake.
func (t *Transport) OpenDirectTCPIP(ctx context.Context, destAddr string) (net.Conn, error) {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("transport to %s is not connected", t.hop.Addr())
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := client.Dial("tcp", destAddr)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to open direct-tcpip channel to %s: %w", destAddr, res.err)
		}
		return res.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunCommand executes command as a single remote shell invocation over
// its own SSH session and returns the combined stdout+stderr along with
// whether the remote process exited zero. Grounded on the reference
// remediator's single `bash -c <script>` exec per phase -- scripts are
// never joined with shell ";" separators, since that earlier approach
// broke multi-line if/then bodies.
func (t *Transport) RunCommand(ctx context.Context, command string) (string, bool, error) {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	if client == nil {
		return "", false, fmt.Errorf("transport to %s is not connected", t.hop.Addr())
	}

	session, err := client.NewSession()
	if err != nil {
		return "", false, fmt.Errorf("failed to open session on %s: %w", t.hop.Addr(), err)
	}
	defer session.Close()

	type execResult struct {
		output string
		ok     bool
	}
	doneCh := make(chan execResult, 1)

	go func() {
		output, err := session.CombinedOutput(command)
		doneCh <- execResult{output: string(output), ok: err == nil}
	}()

	select {
	case res := <-doneCh:
		return res.output, res.ok, nil
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return "", false, ctx.Err()
	}
}

// IsActive reports whether the underlying connection still answers a
// keepalive request.
func (t *Transport) IsActive() bool {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	if client == nil {
		return false
	}
	_, _, err := client.SendRequest("keepalive@sockstun", true, nil)
	return err == nil
}

// Close tears down the underlying SSH connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
