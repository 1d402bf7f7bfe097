// Package tunconf holds the configuration surface for a tunnel session:
// the two SSH hops, the local SOCKS port, and the options that shape how
// the broker dials out.
package tunconf

import (
	"fmt"

	"github.com/sockstun/sockstun/core/utils"
)

var netUtils = utils.NewNetworkUtils()

// Mode selects whether the broker dials the egress hop directly or
// cascades through an intermediate relay hop.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeBridge Mode = "bridge"
)

// HopSpec describes one SSH endpoint in the chain.
type HopSpec struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`

	// Extensions carries opt-in auth/host-key overrides that are not part
	// of the default password-only flow: "auth_method" (password,
	// private_key, agent), "private_key_path", "passphrase",
	// "host_key_policy" (strict, accept, ask), "known_hosts_file".
	Extensions map[string]string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

func (h HopSpec) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

func (h HopSpec) validate(label string) error {
	if h.Host == "" {
		return fmt.Errorf("%s: host is required", label)
	}
	if !netUtils.ValidatePort(h.Port) {
		return fmt.Errorf("%s: port %d out of range", label, h.Port)
	}
	if h.User == "" {
		return fmt.Errorf("%s: user is required", label)
	}
	return nil
}

// Config is the full description of one tunnel the broker will maintain.
type Config struct {
	Mode Mode    `json:"mode" yaml:"mode"`
	Hop1 HopSpec `json:"hop1" yaml:"hop1"`
	Hop2 HopSpec `json:"hop2,omitempty" yaml:"hop2,omitempty"`

	LocalPort   int  `json:"local_port" yaml:"local_port"`
	Compression bool `json:"compression" yaml:"compression"`

	// IdleTimeoutSeconds bounds how long a relayed connection may sit without
	// traffic in either direction before it is torn down.
	IdleTimeoutSeconds int `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`

	// MaxRetries/RetryIntervalSeconds govern the transient-error retry
	// policy for Connect.
	MaxRetries           int `json:"max_retries" yaml:"max_retries"`
	RetryIntervalSeconds int `json:"retry_interval_seconds" yaml:"retry_interval_seconds"`
}

// localPortMin is the lowest local_port the broker will bind to; unlike
// a hop's SSH port, the local SOCKS listener is never handed a
// privileged port.
const localPortMin = 1024
const localPortMax = 65535

// Validate checks the structural invariants Connect relies on before it
// ever dials out.
func (c Config) Validate() error {
	if c.LocalPort < localPortMin || c.LocalPort > localPortMax {
		return fmt.Errorf("local_port %d out of range [%d,%d]", c.LocalPort, localPortMin, localPortMax)
	}
	if err := c.Hop1.validate("hop1"); err != nil {
		return err
	}
	switch c.Mode {
	case ModeDirect:
		// hop2 is ignored in direct mode.
	case ModeBridge:
		if err := c.Hop2.validate("hop2"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	return nil
}

// DefaultConfig mirrors the teacher's DefaultConfig idiom: concrete,
// sensible defaults rather than zero values.
func DefaultConfig() Config {
	return Config{
		Mode:                 ModeDirect,
		LocalPort:            1080,
		Compression:          false,
		IdleTimeoutSeconds:   60,
		MaxRetries:           3,
		RetryIntervalSeconds: 2,
	}
}
