// Package diagnose classifies SSH/tunnel error messages into an
// actionable category so the CLI/dashboard can show the right remedy
// and the TunnelManager can decide whether a retry is worth attempting.
// Ported 1:1 from the reference implementation's AutoDoctor.analyze_error:
// same priority order, same categories/severities/fixable flags.
package diagnose

import "strings"

type Category string

const (
	CategoryAuth     Category = "auth"
	CategoryService  Category = "service"
	CategoryNetwork  Category = "network"
	CategoryConfig   Category = "config"
	CategorySecurity Category = "security"
	CategorySystem   Category = "system"
	CategoryGeneral  Category = "general"
)

type Severity string

const (
	SeverityLow     Severity = "low"
	SeverityMedium  Severity = "medium"
	SeverityHigh    Severity = "high"
	SeverityUnknown Severity = "unknown"
)

// Diagnosis is the classification result for one error message.
type Diagnosis struct {
	Reason   string
	Category Category
	Severity Severity
	Fixable  bool
	Remedies []string
}

type rule struct {
	substrings []string
	reason     string
	category   Category
	severity   Severity
	fixable    bool
	remedies   []string
}

// rules is evaluated in order; the first matching substring wins, so
// more specific patterns are listed before more general ones.
var rules = []rule{
	{
		substrings: []string{"permission denied", "authentication failed"},
		reason:     "SSH authentication rejected the supplied credentials",
		category:   CategoryAuth,
		severity:   SeverityHigh,
		fixable:    true,
		remedies:   []string{"Check password", "Verify username", "Check SSH key permissions", "Enable password authentication"},
	},
	{
		substrings: []string{"too many authentication failures"},
		reason:     "too many authentication attempts were made against the host",
		category:   CategoryAuth,
		severity:   SeverityMedium,
		fixable:    true,
		remedies:   []string{"Check password", "Verify username", "Check SSH key permissions", "Enable password authentication"},
	},
	{
		substrings: []string{"connection refused"},
		reason:     "the remote host refused the connection",
		category:   CategoryService,
		severity:   SeverityHigh,
		fixable:    true,
		remedies:   []string{"Start SSH service", "Open firewall port", "Check SSH port configuration"},
	},
	{
		substrings: []string{"connection timed out", "timed out"},
		reason:     "the connection attempt timed out",
		category:   CategoryNetwork,
		severity:   SeverityMedium,
		fixable:    true,
		remedies:   []string{"Check network connectivity", "Verify IP address", "Check firewall rules", "Test with different port"},
	},
	{
		substrings: []string{"no route to host", "network is unreachable"},
		reason:     "no network route to the host exists",
		category:   CategoryNetwork,
		severity:   SeverityHigh,
		fixable:    false,
		remedies:   []string{"Check network configuration", "Verify IP reachability", "Contact network administrator"},
	},
	{
		substrings: []string{"channel setup failed", "tcp forwarding"},
		reason:     "the SSH server rejected a direct-tcpip channel request",
		category:   CategoryConfig,
		severity:   SeverityHigh,
		fixable:    true,
		remedies:   []string{"Enable AllowTcpForwarding", "Enable GatewayPorts", "Restart SSH service"},
	},
	{
		substrings: []string{"broken pipe", "connection reset by peer"},
		reason:     "the connection was closed unexpectedly by the remote end",
		category:   CategoryConfig,
		severity:   SeverityMedium,
		fixable:    true,
		remedies:   []string{"Increase ClientAliveInterval", "Check network stability", "Enable KeepAlive"},
	},
	{
		substrings: []string{"host key verification failed"},
		reason:     "the remote host's key does not match the expected fingerprint",
		category:   CategorySecurity,
		severity:   SeverityMedium,
		fixable:    true,
		remedies:   []string{"Remove old host key", "Verify server identity", "Relax host-key checking for testing"},
	},
	{
		substrings: []string{"resource temporarily unavailable"},
		reason:     "the remote host is temporarily out of resources",
		category:   CategorySystem,
		severity:   SeverityMedium,
		fixable:    true,
		remedies:   []string{"Check system resources", "Increase limits.conf", "Optimize server performance"},
	},
}

// Diagnose classifies errMsg using the first matching rule. Unmatched
// messages fall into the general/unknown/unfixable bucket so callers
// never silently drop an unrecognized failure.
func Diagnose(errMsg string) Diagnosis {
	lower := strings.ToLower(errMsg)

	for _, r := range rules {
		for _, s := range r.substrings {
			if strings.Contains(lower, s) {
				return Diagnosis{
					Reason:   r.reason,
					Category: r.category,
					Severity: r.severity,
					Fixable:  r.fixable,
					Remedies: r.remedies,
				}
			}
		}
	}

	return Diagnosis{
		Reason:   errMsg,
		Category: CategoryGeneral,
		Severity: SeverityUnknown,
		Fixable:  false,
		Remedies: []string{"inspect the raw error message for further detail"},
	}
}
