package remediate

import (
	"context"
	"strings"
	"testing"
)

func TestBashCWrapsAsSingleInvocation(t *testing.T) {
	got := bashC("echo hi")
	want := "bash -c 'echo hi'"
	if got != want {
		t.Fatalf("bashC = %q, want %q", got, want)
	}
}

func TestBashCEscapesEmbeddedSingleQuotes(t *testing.T) {
	got := bashC("echo 'quoted'")
	want := `bash -c 'echo '"'"'quoted'"'"''`
	if got != want {
		t.Fatalf("bashC = %q, want %q", got, want)
	}
}

func TestSshdRepairScriptDefaultsPortWhenUnset(t *testing.T) {
	withPort := sshdRepairScript(2222)
	if !strings.Contains(withPort, "ufw allow 2222/tcp") {
		t.Fatal("expected the configured port to appear in the firewall rule")
	}

	withoutPort := sshdRepairScript(0)
	if !strings.Contains(withoutPort, "ufw allow 22/tcp") {
		t.Fatal("expected port 0 to fall back to 22")
	}
}

func TestSshdRepairScriptSetsRequiredDirectives(t *testing.T) {
	script := sshdRepairScript(22)
	for _, directive := range []string{
		"set_directive AllowTcpForwarding yes",
		"set_directive GatewayPorts yes",
		"set_directive PermitTunnel yes",
		"set_directive ClientAliveInterval 60",
		"set_directive ClientAliveCountMax 3",
		"set_directive TCPKeepAlive yes",
		"set_directive MaxAuthTries 6",
		"set_directive PasswordAuthentication yes",
		"set_directive PermitRootLogin yes",
		"set_directive MaxSessions 1000",
		"set_directive MaxStartups 100:30:1000",
	} {
		if !strings.Contains(script, directive) {
			t.Errorf("sshd_repair script missing directive %q", directive)
		}
	}
}

func TestProbeConnectivityFailsForUnresolvableHost(t *testing.T) {
	if probeConnectivity(context.Background(), "this-host-does-not-resolve.invalid") {
		t.Fatal("expected the probe to fail against an unresolvable host")
	}
}
