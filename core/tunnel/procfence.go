package tunnel

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"
)

// clearLocalPort best-effort clears whatever is occupying localPort
// before Connect binds the SOCKS listener there.
//
// Process-pattern matching (killing anything that looks like
// `ssh ... -D <port>`) is inherently racy -- see the design note this
// mirrors from the reference implementation's kill_existing_ssh -- so
// it is kept only as a best-effort, non-fatal first step. The
// authoritative safety net is portIsFree's bind-and-release probe: if
// something still holds the port after this step, Connect surfaces
// that as a "still in use after cleanup" TransportError rather than
// pretending cleanup always works.
func clearLocalPort(port int) {
	if runtime.GOOS == "windows" {
		return
	}
	// Matches processes started as an SSH dynamic-forward client on this
	// port; harmless no-op if none exist or pkill isn't installed.
	pattern := fmt.Sprintf("ssh.*-D.*%d", port)
	exec.Command("pkill", "-f", pattern).Run()
}

// portIsFree performs a bind-and-release probe, the authoritative check
// clearLocalPort's best-effort cleanup cannot guarantee on its own.
func portIsFree(bindAddr string, port int) bool {
	addr := fmt.Sprintf("%s:%d", bindAddr, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
