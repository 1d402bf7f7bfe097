// Package tunnel orchestrates one tunnel session end to end: dialing the
// hop chain (direct or bridged), standing up the local SOCKS5 listener,
// running the traffic monitor, and tearing everything down cleanly on
// Disconnect. Grounded on the reference connect()/disconnect() flow and
// on the teacher's TunnelManager goroutine/shutdown skeleton.
package tunnel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sockstun/sockstun/core/diagnose"
	"github.com/sockstun/sockstun/core/monitor"
	"github.com/sockstun/sockstun/core/socks"
	"github.com/sockstun/sockstun/core/sshtransport"
	"github.com/sockstun/sockstun/core/tunconf"
	"github.com/sockstun/sockstun/core/utils"
)

type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateEstablished State = "established"
	StateTornDown    State = "torn_down"
)

// ErrorKind enumerates the failure taxonomy Connect/Disconnect can
// surface, so callers can branch on class without string matching.
type ErrorKind string

const (
	ErrorKindConfigMissing     ErrorKind = "config_missing"
	ErrorKindAuthFailed        ErrorKind = "auth_failed"
	ErrorKindTransport         ErrorKind = "transport_error"
	ErrorKindChannelOpenFailed ErrorKind = "channel_open_failed"
	ErrorKindAlreadyConnected  ErrorKind = "already_connected"
)

// TunnelError wraps an underlying cause with the kind Diagnose/retry
// policy need to make decisions.
type TunnelError struct {
	Kind  ErrorKind
	Cause error
}

func (e *TunnelError) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *TunnelError) Unwrap() error { return e.Cause }

// Snapshot is a point-in-time, coherent view of the session for status
// reporting.
type Snapshot struct {
	State         State
	Mode          tunconf.Mode
	LocalPort     int
	EstablishedAt time.Time
	LastError     string
	Diagnosis     *diagnose.Diagnosis
	Traffic       monitor.Counters
}

// Manager owns the full lifecycle of one tunnel session.
type Manager struct {
	cfg    tunconf.Config
	logger utils.Logger

	mu            sync.Mutex
	state         State
	establishedAt time.Time
	lastErr       string
	lastDiagnosis *diagnose.Diagnosis

	hop1Transport *sshtransport.Transport
	hop2Transport *sshtransport.Transport
	listener      *socks.Listener
	trafficMon    *monitor.TrafficMonitor
}

func NewManager(cfg tunconf.Config, logger utils.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger, state: StateIdle}
}

// Connect establishes the tunnel: hygiene, dial (direct or bridge),
// listener, monitor. Transient TransportErrors are retried up to
// cfg.MaxRetries times with a linear cfg.RetryIntervalSeconds backoff;
// AuthFailed and ConfigMissing are never retried.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateEstablished {
		m.mu.Unlock()
		return &TunnelError{Kind: ErrorKindAlreadyConnected}
	}
	m.state = StateConnecting
	m.mu.Unlock()

	if err := m.cfg.Validate(); err != nil {
		m.recordFailure(err.Error())
		return &TunnelError{Kind: ErrorKindConfigMissing, Cause: err}
	}

	clearLocalPort(m.cfg.LocalPort)
	if !portIsFree("127.0.0.1", m.cfg.LocalPort) {
		err := fmt.Errorf("local port %d is still in use after cleanup", m.cfg.LocalPort)
		m.recordFailure(err.Error())
		return &TunnelError{Kind: ErrorKindTransport, Cause: err}
	}

	maxRetries := m.cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	retryInterval := time.Duration(m.cfg.RetryIntervalSeconds) * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := m.dialAndStart(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var tErr *TunnelError
		if asTunnelError(err, &tErr) && tErr.Kind != ErrorKindTransport {
			m.recordFailure(err.Error())
			return err
		}

		m.logger.Warn("connect attempt failed", "attempt", attempt, "max_retries", maxRetries, "error", err)
		if attempt < maxRetries {
			select {
			case <-time.After(retryInterval):
			case <-ctx.Done():
				m.recordFailure(ctx.Err().Error())
				return ctx.Err()
			}
		}
	}

	m.recordFailure(lastErr.Error())
	return lastErr
}

func asTunnelError(err error, target **TunnelError) bool {
	te, ok := err.(*TunnelError)
	if ok {
		*target = te
	}
	return ok
}

// dialErrorKind classifies an sshtransport.Dial failure: an SSH
// authentication rejection is AuthFailed (never retried), anything else
// is a transient TransportError.
func dialErrorKind(err error) ErrorKind {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unable to authenticate") ||
		diagnose.Diagnose(msg).Category == diagnose.CategoryAuth {
		return ErrorKindAuthFailed
	}
	return ErrorKindTransport
}

func (m *Manager) dialAndStart(ctx context.Context) error {
	hop1, err := sshtransport.Dial(ctx, m.cfg.Hop1, nil)
	if err != nil {
		return &TunnelError{Kind: dialErrorKind(err), Cause: err}
	}

	var egress *sshtransport.Transport = hop1
	var hop2 *sshtransport.Transport

	if m.cfg.Mode == tunconf.ModeBridge {
		relayConn, err := hop1.OpenDirectTCPIP(ctx, m.cfg.Hop2.Addr())
		if err != nil {
			hop1.Close()
			return &TunnelError{Kind: ErrorKindChannelOpenFailed, Cause: err}
		}

		hop2, err = sshtransport.Dial(ctx, m.cfg.Hop2, relayConn)
		if err != nil {
			hop1.Close()
			return &TunnelError{Kind: dialErrorKind(err), Cause: err}
		}
		egress = hop2
	}

	trafficMon := monitor.New()
	trafficMon.Start()

	idleTimeout := time.Duration(m.cfg.IdleTimeoutSeconds) * time.Second
	bindHost, bindPort, err := utils.NewNetworkUtils().ParseBindAddress("", m.cfg.LocalPort)
	if err != nil {
		trafficMon.Stop()
		if hop2 != nil {
			hop2.Close()
		}
		hop1.Close()
		return &TunnelError{Kind: ErrorKindConfigMissing, Cause: err}
	}
	bindAddr := fmt.Sprintf("%s:%d", bindHost, bindPort)
	listener := socks.NewListener(bindAddr, egress, idleTimeout, m.logger, trafficMon)

	if err := listener.Start(); err != nil {
		trafficMon.Stop()
		if hop2 != nil {
			hop2.Close()
		}
		hop1.Close()
		return &TunnelError{Kind: ErrorKindTransport, Cause: err}
	}

	m.mu.Lock()
	m.hop1Transport = hop1
	m.hop2Transport = hop2
	m.listener = listener
	m.trafficMon = trafficMon
	m.state = StateEstablished
	m.establishedAt = time.Now()
	m.lastErr = ""
	m.lastDiagnosis = nil
	m.mu.Unlock()

	m.logger.Info("tunnel established", "mode", m.cfg.Mode, "local_port", m.cfg.LocalPort)
	return nil
}

// Disconnect tears the tunnel down. It is idempotent: calling it on a
// manager that is not established releases nothing and only records
// StateTornDown.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state != StateEstablished {
		m.state = StateTornDown
		m.mu.Unlock()
		return
	}
	listener := m.listener
	trafficMon := m.trafficMon
	hop1 := m.hop1Transport
	hop2 := m.hop2Transport
	m.listener = nil
	m.trafficMon = nil
	m.hop1Transport = nil
	m.hop2Transport = nil
	m.state = StateTornDown
	m.mu.Unlock()

	if listener != nil {
		listener.Stop()
	}
	if trafficMon != nil {
		trafficMon.Stop()
	}
	if hop2 != nil {
		hop2.Close()
	}
	if hop1 != nil {
		hop1.Close()
	}

	m.logger.Info("tunnel disconnected")
}

// IsEstablished reports whether the tunnel is currently up and the
// egress transport still answers keepalives.
func (m *Manager) IsEstablished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateEstablished {
		return false
	}
	egress := m.hop2Transport
	if egress == nil {
		egress = m.hop1Transport
	}
	return egress != nil && egress.IsActive()
}

// Snapshot returns a coherent point-in-time view for status reporting.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{
		State:         m.state,
		Mode:          m.cfg.Mode,
		LocalPort:     m.cfg.LocalPort,
		EstablishedAt: m.establishedAt,
		LastError:     m.lastErr,
		Diagnosis:     m.lastDiagnosis,
	}
	trafficMon := m.trafficMon
	m.mu.Unlock()

	if trafficMon != nil {
		snap.Traffic = trafficMon.Snapshot()
	}
	return snap
}

func (m *Manager) recordFailure(msg string) {
	d := diagnose.Diagnose(msg)
	m.mu.Lock()
	m.state = StateIdle
	m.lastErr = msg
	m.lastDiagnosis = &d
	m.mu.Unlock()
}
