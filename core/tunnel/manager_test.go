package tunnel

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/sockstun/sockstun/core/socks"
	"github.com/sockstun/sockstun/core/tunconf"
	"github.com/sockstun/sockstun/core/utils"
)

// blockingDialer hands back one end of an in-memory pipe whose other
// end nobody ever reads or closes, so a flow through it parks forever
// in Relay's Read until something force-closes the socket.
type blockingDialer struct{}

func (blockingDialer) OpenDirectTCPIP(ctx context.Context, destAddr string) (net.Conn, error) {
	_, server := net.Pipe()
	return server, nil
}

func discardLogger(t *testing.T) utils.Logger {
	t.Helper()
	logger, err := utils.NewLogger(utils.LoggerConfig{Level: "error", Format: "text", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to build test logger: %v", err)
	}
	return logger
}

func TestConnectRejectsInvalidConfigWithoutDialing(t *testing.T) {
	cfg := tunconf.DefaultConfig() // hop1 is zero-value, so Validate must fail
	m := NewManager(cfg, discardLogger(t))

	err := m.Connect(context.Background())
	if err == nil {
		t.Fatal("expected Connect to fail on an unvalidated config")
	}
	tErr, ok := err.(*TunnelError)
	if !ok {
		t.Fatalf("error = %v (%T), want *TunnelError", err, err)
	}
	if tErr.Kind != ErrorKindConfigMissing {
		t.Fatalf("Kind = %v, want %v", tErr.Kind, ErrorKindConfigMissing)
	}

	snap := m.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("State = %v, want %v after a config validation failure", snap.State, StateIdle)
	}
}

func TestConnectRejectsWhenAlreadyEstablished(t *testing.T) {
	cfg := tunconf.DefaultConfig()
	cfg.Hop1 = tunconf.HopSpec{Host: "127.0.0.1", Port: 22, User: "u", Password: "p"}
	m := NewManager(cfg, discardLogger(t))

	// Force the established state directly rather than dialing a real
	// SSH server, mirroring the state-short-circuit this test targets.
	m.mu.Lock()
	m.state = StateEstablished
	m.mu.Unlock()

	err := m.Connect(context.Background())
	tErr, ok := err.(*TunnelError)
	if !ok {
		t.Fatalf("error = %v (%T), want *TunnelError", err, err)
	}
	if tErr.Kind != ErrorKindAlreadyConnected {
		t.Fatalf("Kind = %v, want %v", tErr.Kind, ErrorKindAlreadyConnected)
	}
}

func TestDisconnectIsIdempotentWhenIdle(t *testing.T) {
	m := NewManager(tunconf.DefaultConfig(), discardLogger(t))
	m.Disconnect()
	m.Disconnect()

	snap := m.Snapshot()
	if snap.State != StateTornDown {
		t.Fatalf("State = %v, want %v", snap.State, StateTornDown)
	}
}

// TestDisconnectDoesNotDeadlockOnActiveFlow reproduces an in-flight
// SOCKS flow that is blocked mid-transfer (its egress side never
// answers) and confirms Disconnect still returns instead of hanging in
// the listener's shutdown wait forever.
func TestDisconnectDoesNotDeadlockOnActiveFlow(t *testing.T) {
	cfg := tunconf.DefaultConfig()
	m := NewManager(cfg, discardLogger(t))

	listener := socks.NewListener("127.0.0.1:0", blockingDialer{}, time.Minute, discardLogger(t), nil)
	if err := listener.Start(); err != nil {
		t.Fatalf("listener.Start() error = %v", err)
	}

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial the listener: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte{0x05, 0x01, 0x00})
	methodReply := make([]byte, 2)
	if _, err := readFull(conn, methodReply); err != nil {
		t.Fatalf("reading method reply: %v", err)
	}

	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len("example.com"))}
	req = append(req, []byte("example.com")...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, 80)
	req = append(req, portBuf...)
	conn.Write(req)

	connectReply := make([]byte, 10)
	if _, err := readFull(conn, connectReply); err != nil {
		t.Fatalf("reading connect reply: %v", err)
	}
	// The flow is now established and blocked in Relay; give the
	// accept goroutine a moment to reach that state before tearing down.
	time.Sleep(50 * time.Millisecond)

	m.mu.Lock()
	m.state = StateEstablished
	m.listener = listener
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.Disconnect()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Disconnect() did not return with an active flow in flight; shutdown deadlocked")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestIsEstablishedFalseWhenIdle(t *testing.T) {
	m := NewManager(tunconf.DefaultConfig(), discardLogger(t))
	if m.IsEstablished() {
		t.Fatal("expected a freshly-constructed Manager to report not established")
	}
}

func TestPortIsFreeDetectsBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to bind test listener: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	if portIsFree("127.0.0.1", port) {
		t.Fatal("expected portIsFree to report false for an already-bound port")
	}
}

func TestPortIsFreeReportsTrueForAnUnboundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	if !portIsFree("127.0.0.1", port) {
		t.Fatal("expected portIsFree to report true right after closing the listener")
	}
}
