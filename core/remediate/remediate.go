// Package remediate drives server-side repair of a hop whose tunnel
// keeps failing: connectivity probe, network repair, sshd repair
// (mandatory), security hardening, performance tuning, and a final
// verification pass. Ported from the reference AutoDoctor.repair_server
// phase sequence and its six _repair_*/_verify_repair helpers.
package remediate

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sockstun/sockstun/core/sshtransport"
	"github.com/sockstun/sockstun/core/tunconf"
)

// icmpProbeTimeout bounds the local ping subprocess; the probe never
// touches the SSH session, so it must have its own wall-clock limit.
const icmpProbeTimeout = 10 * time.Second

// PhaseResult captures one phase's remote execution.
type PhaseResult struct {
	Phase   string
	Output  string
	Success bool
}

// Report is the outcome of a full remediation run.
type Report struct {
	Phases   []PhaseResult
	Verified bool
}

// Run connects to hop independently of any existing tunnel session and
// executes the repair phase sequence. Only the sshd-repair phase's
// failure aborts the run early; network repair and hardening/perf
// tuning are best-effort and continue even if a given phase fails.
func Run(ctx context.Context, hop tunconf.HopSpec) (Report, error) {
	transport, err := sshtransport.Dial(ctx, hop, nil)
	if err != nil {
		return Report{}, fmt.Errorf("remediation could not connect to %s: %w", hop.Addr(), err)
	}
	defer transport.Close()

	var report Report

	run := func(phase, script string) PhaseResult {
		output, ok, err := transport.RunCommand(ctx, bashC(script))
		if err != nil {
			output = output + "\n" + err.Error()
		}
		result := PhaseResult{Phase: phase, Output: output, Success: ok}
		report.Phases = append(report.Phases, result)
		return result
	}

	probeOK := probeConnectivity(ctx, hop.Host)
	probeOutput := "CONNECTIVITY_OK"
	if !probeOK {
		probeOutput = "CONNECTIVITY_DEGRADED"
	}
	report.Phases = append(report.Phases, PhaseResult{Phase: "connectivity_probe", Output: probeOutput, Success: probeOK})

	if !probeOK {
		run("network_repair", networkRepairScript)
	}

	sshdResult := run("sshd_repair", sshdRepairScript(hop.Port))
	if !sshdResult.Success {
		return report, fmt.Errorf("mandatory sshd_repair phase failed on %s", hop.Addr())
	}

	run("security_hardening", securityHardeningScript)
	run("perf_tuning", perfTuningScript)

	verify := run("verification", verificationScript)
	report.Verified = verify.Success &&
		strings.Contains(verify.Output, "SSH_ACTIVE") &&
		strings.Contains(verify.Output, "TCP_FORWARDING_ENABLED")

	return report, nil
}

// probeConnectivity pings hop directly from this host, without going
// through the remediation SSH session, so a dead network path is
// diagnosed independently of whether SSH itself is reachable.
func probeConnectivity(ctx context.Context, host string) bool {
	pctx, cancel := context.WithTimeout(ctx, icmpProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(pctx, "ping", "-c", "2", "-W", "3", host)
	return cmd.Run() == nil
}

// bashC wraps script as a single `bash -c '<script>'` remote invocation,
// never as several ";"-joined commands, so multi-line constructs such as
// if/then bodies reach the remote shell intact. The script runs without
// `set -e`: a failing statement does not stop the ones after it, and the
// exit status is that of the last statement.
func bashC(script string) string {
	escaped := strings.ReplaceAll(script, "'", `'"'"'`)
	return fmt.Sprintf("bash -c '%s'", escaped)
}

const networkRepairScript = `
if [ -f /etc/resolv.conf ]; then
  chattr -i /etc/resolv.conf 2>/dev/null
  cp /etc/resolv.conf /etc/resolv.conf.sockstun.bak 2>/dev/null
  { echo "nameserver 8.8.8.8"; echo "nameserver 1.1.1.1"; } > /etc/resolv.conf
fi
echo "NETWORK_REPAIR_DONE"
`

func sshdRepairScript(port int) string {
	if port <= 0 {
		port = 22
	}
	return fmt.Sprintf(`
SSHD_CONFIG=/etc/ssh/sshd_config
STAMP=$(date +%%Y%%m%%d%%H%%M%%S)
cp "$SSHD_CONFIG" "$SSHD_CONFIG.sockstun.$STAMP.bak"

set_directive() {
  key="$1"; value="$2"
  if grep -qE "^[#[:space:]]*${key}[[:space:]]" "$SSHD_CONFIG"; then
    sed -i -E "s|^[#[:space:]]*${key}[[:space:]].*|${key} ${value}|" "$SSHD_CONFIG"
  else
    echo "${key} ${value}" >> "$SSHD_CONFIG"
  fi
}

set_directive AllowTcpForwarding yes
set_directive GatewayPorts yes
set_directive PermitTunnel yes
set_directive ClientAliveInterval 60
set_directive ClientAliveCountMax 3
set_directive TCPKeepAlive yes
set_directive MaxAuthTries 6
set_directive PasswordAuthentication yes
set_directive PermitRootLogin yes
set_directive MaxSessions 1000
set_directive MaxStartups 100:30:1000

if command -v ufw >/dev/null 2>&1; then
  ufw allow %d/tcp >/dev/null 2>&1
  ufw allow 1080/tcp >/dev/null 2>&1
elif command -v firewall-cmd >/dev/null 2>&1; then
  firewall-cmd --add-port=%d/tcp --permanent >/dev/null 2>&1
  firewall-cmd --add-port=1080/tcp --permanent >/dev/null 2>&1
  firewall-cmd --reload >/dev/null 2>&1
elif command -v iptables >/dev/null 2>&1; then
  iptables -C INPUT -p tcp --dport %d -j ACCEPT 2>/dev/null || iptables -A INPUT -p tcp --dport %d -j ACCEPT
fi

if command -v systemctl >/dev/null 2>&1; then
  systemctl restart sshd || systemctl restart ssh
else
  service sshd restart || service ssh restart
fi
sleep 3
echo "SSH_REPAIR_COMPLETE"
`, port, port, port, port)
}

const securityHardeningScript = `
chmod 600 /etc/ssh/sshd_config 2>/dev/null
chmod 700 /root/.ssh 2>/dev/null
chmod 600 /root/.ssh/* 2>/dev/null
echo "SECURITY_HARDENING_DONE"
`

const perfTuningScript = `
sysctl -w net.core.default_qdisc=fq >/dev/null 2>&1
sysctl -w net.ipv4.tcp_congestion_control=bbr >/dev/null 2>&1
sysctl -w net.core.rmem_max=16777216 >/dev/null 2>&1
sysctl -w net.core.wmem_max=16777216 >/dev/null 2>&1
sysctl -w net.core.somaxconn=4096 >/dev/null 2>&1
sysctl -w fs.file-max=100000 >/dev/null 2>&1
sysctl -p >/dev/null 2>&1
echo "PERF_TUNING_DONE"
`

const verificationScript = `
if systemctl is-active sshd >/dev/null 2>&1 || systemctl is-active ssh >/dev/null 2>&1; then
  echo "SSH_ACTIVE"
fi
if grep -qE "^AllowTcpForwarding[[:space:]]+yes" /etc/ssh/sshd_config; then
  echo "TCP_FORWARDING_ENABLED"
fi
if command -v ufw >/dev/null 2>&1 && ufw status | grep -q "1080"; then
  echo "FIREWALL_OPEN"
fi
`
