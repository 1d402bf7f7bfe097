package socks

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const relayBufferSize = 32 * 1024

// Relay copies bytes bidirectionally between a and b until either side
// closes or idleTimeout elapses with no traffic in either direction.
// Generalized from a local<->remote net.Conn copy loop to the
// net.Conn<->ssh.Channel shape this broker needs, since an SSH channel
// satisfies net.Conn directly.
func Relay(a, b net.Conn, idleTimeout time.Duration, counter ByteCounter) {
	// lastActive is shared by both directions, so a direction that is
	// quiet while the other one carries traffic is not torn down.
	lastActive := time.Now().UnixNano()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		copyDirection(b, a, idleTimeout, counter, true, &lastActive)
	}()
	go func() {
		defer wg.Done()
		copyDirection(a, b, idleTimeout, counter, false, &lastActive)
	}()

	wg.Wait()
}

// copyDirection copies from src to dst. src's read deadline is kept at
// idleTimeout past the last chunk seen in either direction (and dst's
// write deadline is refreshed on each chunk), so the relay tears itself
// down after idleTimeout of silence on both sides rather than hanging
// forever. sent=true means this goroutine is carrying client->remote
// traffic.
func copyDirection(dst, src net.Conn, idleTimeout time.Duration, counter ByteCounter, sent bool, lastActive *int64) {
	buf := make([]byte, relayBufferSize)

	for {
		if idleTimeout > 0 {
			last := time.Unix(0, atomic.LoadInt64(lastActive))
			src.SetReadDeadline(last.Add(idleTimeout))
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			atomic.StoreInt64(lastActive, time.Now().UnixNano())
			if idleTimeout > 0 {
				dst.SetWriteDeadline(time.Now().Add(idleTimeout))
			}
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				closeBoth(dst, src)
				return
			}
			if counter != nil {
				if sent {
					counter.AddSent(int64(n))
				} else {
					counter.AddReceived(int64(n))
				}
			}
		}

		if readErr != nil {
			if ne, ok := readErr.(net.Error); ok && ne.Timeout() && idleTimeout > 0 &&
				time.Since(time.Unix(0, atomic.LoadInt64(lastActive))) < idleTimeout {
				// the other direction moved bytes since this deadline was set
				continue
			}
			closeBoth(dst, src)
			if readErr != io.EOF {
				// idle timeouts and resets are expected teardown paths,
				// not reported as failures.
				_ = readErr
			}
			return
		}
	}
}

func closeBoth(a, b net.Conn) {
	a.Close()
	b.Close()
}
