// Package adapter holds the thin, swappable collaborators spec.md
// treats as external to the broker: OS proxy registration and a
// public-IP probe through the tunnel. Neither carries tunnel logic;
// both are optional conveniences a CLI layer may wire in.
package adapter

import (
	"fmt"
	"os/exec"
	"runtime"
)

// ProxyRegistrar toggles the host OS's system-wide SOCKS proxy setting.
type ProxyRegistrar interface {
	SetSystemProxy(enable bool, port int) error
}

// NoopProxyRegistrar is the default: this broker's scope ends at the
// local SOCKS5 listener, and wiring the OS proxy setting is left to the
// operator or to an explicit opt-in registrar below.
type NoopProxyRegistrar struct{}

func (NoopProxyRegistrar) SetSystemProxy(enable bool, port int) error { return nil }

// macNetworksetupRegistrar shells to networksetup(8) to flip the SOCKS
// proxy for a fixed list of common service names, matching the
// reference implementation's set_system_proxy macOS branch. Provided as
// an opt-in convenience for local manual testing; never constructed by
// default.
type macNetworksetupRegistrar struct {
	services []string
}

func NewMacNetworksetupRegistrar() ProxyRegistrar {
	return &macNetworksetupRegistrar{
		services: []string{"Wi-Fi", "Ethernet", "Thunderbolt Bridge"},
	}
}

func (m *macNetworksetupRegistrar) SetSystemProxy(enable bool, port int) error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("networksetup proxy registration is only supported on macOS")
	}

	state := "off"
	if enable {
		state = "on"
	}

	var lastErr error
	for _, service := range m.services {
		if err := exec.Command("networksetup", "-setsocksfirewallproxystate", service, state).Run(); err != nil {
			lastErr = err
			continue
		}
		if enable {
			exec.Command("networksetup", "-setsocksfirewallproxy", service, "127.0.0.1", fmt.Sprintf("%d", port)).Run()
		}
	}
	return lastErr
}
