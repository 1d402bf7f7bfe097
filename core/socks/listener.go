package socks

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sockstun/sockstun/core/utils"
)

// Dialer opens the destination side of a relayed flow. sshtransport.Transport
// satisfies this through OpenDirectTCPIP.
type Dialer interface {
	OpenDirectTCPIP(ctx context.Context, destAddr string) (net.Conn, error)
}

// ByteCounter receives relay throughput as it happens so a TrafficMonitor
// can sample it; the counter passed to a Listener or Relay may be nil.
type ByteCounter interface {
	AddSent(n int64)
	AddReceived(n int64)
}

// shutdownGrace bounds how long Stop waits for in-flight flows to
// drain on their own before severing their sockets outright. A var,
// not a const, so tests can shrink it instead of waiting out the
// production window.
var shutdownGrace = 5 * time.Second

// Listener accepts SOCKS5 clients on a local address and relays each
// CONNECT request to dest through the configured Dialer.
//
// Grounded on the accept-loop/shutdown shape of a dynamic-forwarding
// listener: a deadline-polled Accept loop so Stop can return promptly
// without relying on Close unblocking Accept on every platform, and a
// WaitGroup joining all per-connection goroutines before Stop returns.
// The teacher's TunnelManager.Stop tracks every live net.Conn in a
// sync.Map and force-closes them before waiting on the WaitGroup, since
// a flow blocked in a Read on its own socket would otherwise never
// notice the listener has stopped; this listener does the same for
// both the client and egress side of each flow.
type Listener struct {
	bindAddr string
	dialer   Dialer
	logger   utils.Logger
	counter  ByteCounter

	idleTimeout time.Duration

	listener net.Listener
	running  int32
	stopCh   chan struct{}
	wg       sync.WaitGroup
	conns    sync.Map // map[net.Conn]struct{}
}

func NewListener(bindAddr string, dialer Dialer, idleTimeout time.Duration, logger utils.Logger, counter ByteCounter) *Listener {
	return &Listener{
		bindAddr:    bindAddr,
		dialer:      dialer,
		logger:      logger,
		counter:     counter,
		idleTimeout: idleTimeout,
	}
}

func (l *Listener) track(conn net.Conn)   { l.conns.Store(conn, struct{}{}) }
func (l *Listener) untrack(conn net.Conn) { l.conns.Delete(conn) }

// closeTrackedConns force-closes every live client/egress socket so a
// flow blocked in Relay's Read unblocks with an error instead of
// waiting forever for traffic that will never arrive.
func (l *Listener) closeTrackedConns() {
	l.conns.Range(func(key, _ any) bool {
		if conn, ok := key.(net.Conn); ok {
			conn.Close()
		}
		return true
	})
}

// Start binds the listener and begins accepting. It returns once the
// socket is bound; the accept loop runs in the background.
func (l *Listener) Start() error {
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return errors.New("listener already started")
	}

	ln, err := net.Listen("tcp", l.bindAddr)
	if err != nil {
		atomic.StoreInt32(&l.running, 0)
		return err
	}
	l.listener = ln
	l.stopCh = make(chan struct{})

	l.wg.Add(1)
	go l.acceptLoop()

	l.logger.Info("socks5 listener started", "bind", l.bindAddr)
	return nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		if atomic.LoadInt32(&l.running) == 0 {
			return
		}

		if tcpLn, ok := l.listener.(*net.TCPListener); ok {
			tcpLn.SetDeadline(time.Now().Add(time.Second))
		}

		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			l.logger.Warn("socks5 accept error", "error", err)
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(conn)
		}()
	}
}

func (l *Listener) handleConn(client net.Conn) {
	l.track(client)
	defer l.untrack(client)
	defer client.Close()

	destAddr, err := handshake(client)
	if err != nil {
		l.logger.Debug("socks5 handshake rejected", "error", err, "remote", client.RemoteAddr())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	remote, err := l.dialer.OpenDirectTCPIP(ctx, destAddr)
	if err != nil {
		l.logger.Warn("socks5 channel open failed", "dest", destAddr, "error", err)
		writeHostUnreachable(client)
		return
	}
	l.track(remote)
	defer l.untrack(remote)
	defer remote.Close()

	if err := writeSuccess(client); err != nil {
		l.logger.Debug("socks5 reply write failed", "error", err)
		return
	}

	l.logger.Info("socks5 flow established", "dest", destAddr, "remote_client", client.RemoteAddr())
	Relay(client, remote, l.idleTimeout, l.counter)
}

// Stop closes the listener and waits for in-flight flows to drain. A
// flow that hasn't finished within shutdownGrace has its client and
// egress sockets force-closed so the blocked Read in Relay returns
// with an error instead of holding Stop open indefinitely.
func (l *Listener) Stop() error {
	if !atomic.CompareAndSwapInt32(&l.running, 1, 0) {
		return nil
	}
	if l.stopCh != nil {
		close(l.stopCh)
	}
	var err error
	if l.listener != nil {
		err = l.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		l.logger.Warn("socks5 shutdown grace window elapsed, severing in-flight flows", "bind", l.bindAddr)
		l.closeTrackedConns()
		<-done
	}

	l.logger.Info("socks5 listener stopped", "bind", l.bindAddr)
	return err
}

func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}
