package socks

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

// newClientServerPipe returns the two ends of an in-memory net.Pipe so
// handshake() can be driven without opening a real socket, matching the narrow-test-double
// style the corpus favors over mocking frameworks.
func newClientServerPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestHandshakeIPv4Connect(t *testing.T) {
	client, server := newClientServerPipe(t)

	go func() {
		client.Write([]byte{0x05, 0x01, 0x00}) // VER, NMETHODS, no-auth
		client.Read(make([]byte, 2))           // consume server's method reply

		req := []byte{0x05, 0x01, 0x00, 0x01, 93, 184, 216, 34}
		client.Write(req)
		portBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(portBuf, 80)
		client.Write(portBuf)
	}()

	dest, err := handshake(server)
	if err != nil {
		t.Fatalf("handshake() error = %v", err)
	}
	if dest != "93.184.216.34:80" {
		t.Fatalf("dest = %q, want 93.184.216.34:80", dest)
	}
}

func TestHandshakeDomainConnect(t *testing.T) {
	client, server := newClientServerPipe(t)

	go func() {
		client.Write([]byte{0x05, 0x01, 0x00})
		client.Read(make([]byte, 2))

		domain := "example.com"
		req := []byte{0x05, 0x01, 0x00, 0x03, byte(len(domain))}
		client.Write(req)
		client.Write([]byte(domain))
		portBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(portBuf, 443)
		client.Write(portBuf)
	}()

	dest, err := handshake(server)
	if err != nil {
		t.Fatalf("handshake() error = %v", err)
	}
	if dest != "example.com:443" {
		t.Fatalf("dest = %q, want example.com:443", dest)
	}
}

func TestHandshakeRejectsNonConnectCommand(t *testing.T) {
	client, server := newClientServerPipe(t)

	go func() {
		client.Write([]byte{0x05, 0x01, 0x00})
		client.Read(make([]byte, 2))
		// CMD=2 (BIND), not supported.
		client.Write([]byte{0x05, 0x02, 0x00, 0x01, 0, 0, 0, 0})
		client.Read(make([]byte, 10)) // drain the command-not-supported reply
	}()

	_, err := handshake(server)
	var cmdErr *ErrUnsupportedCommand
	if err == nil {
		t.Fatal("expected an error for a non-CONNECT command")
	}
	if ce, ok := err.(*ErrUnsupportedCommand); !ok {
		t.Fatalf("error = %v (%T), want *ErrUnsupportedCommand", err, err)
	} else {
		cmdErr = ce
	}
	if cmdErr.Got != 0x02 {
		t.Fatalf("Got = %d, want 2", cmdErr.Got)
	}
}

func TestHandshakeRejectsIPv6AddressType(t *testing.T) {
	client, server := newClientServerPipe(t)

	go func() {
		client.Write([]byte{0x05, 0x01, 0x00})
		client.Read(make([]byte, 2))
		client.Write([]byte{0x05, 0x01, 0x00, 0x04})
		client.Read(make([]byte, 10)) // drain the address-not-supported reply
	}()

	_, err := handshake(server)
	if _, ok := err.(*ErrUnsupportedAddressType); !ok {
		t.Fatalf("error = %v (%T), want *ErrUnsupportedAddressType", err, err)
	}
}

func TestHandshakeRejectsWrongVersion(t *testing.T) {
	client, server := newClientServerPipe(t)

	go func() {
		client.Write([]byte{0x04, 0x01, 0x00})
	}()

	_, err := handshake(server)
	if _, ok := err.(*ErrUnsupportedVersion); !ok {
		t.Fatalf("error = %v (%T), want *ErrUnsupportedVersion", err, err)
	}
}

func TestRelayCopiesBothDirectionsAndClosesOnEOF(t *testing.T) {
	aClient, aServer := net.Pipe()
	bClient, bServer := net.Pipe()
	defer aClient.Close()
	defer bClient.Close()

	done := make(chan struct{})
	go func() {
		Relay(aServer, bServer, 2*time.Second, nil)
		close(done)
	}()

	go func() {
		aClient.Write([]byte("ping"))
		aClient.Close()
	}()

	buf := make([]byte, 4)
	bClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := bClient.Read(buf)
	if err != nil {
		t.Fatalf("reading relayed data: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("relayed payload = %q, want %q", buf[:n], "ping")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Relay did not return after one side closed")
	}
}
