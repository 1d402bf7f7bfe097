package sshtransport

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/sockstun/sockstun/core/tunconf"
)

func generateTestSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	signer, err := ssh.NewSignerFromSigner(priv)
	if err != nil {
		t.Fatalf("failed to build test signer: %v", err)
	}
	return signer
}

func TestGetAuthMethodsDefaultsToPassword(t *testing.T) {
	am := NewAuthManager()
	hop := tunconf.HopSpec{Host: "h", Port: 22, User: "u", Password: "secret"}

	methods, err := am.GetAuthMethods(hop)
	if err != nil {
		t.Fatalf("GetAuthMethods() error = %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("len(methods) = %d, want 1", len(methods))
	}
}

func TestGetAuthMethodsRejectsEmptyPassword(t *testing.T) {
	am := NewAuthManager()
	hop := tunconf.HopSpec{Host: "h", Port: 22, User: "u"}

	if _, err := am.GetAuthMethods(hop); err == nil {
		t.Fatal("expected an error when no password is set and auth_method defaults to password")
	}
}

func TestGetAuthMethodsRejectsUnknownMethod(t *testing.T) {
	am := NewAuthManager()
	hop := tunconf.HopSpec{
		Host: "h", Port: 22, User: "u", Password: "secret",
		Extensions: map[string]string{"auth_method": "carrier_pigeon"},
	}

	if _, err := am.GetAuthMethods(hop); err == nil {
		t.Fatal("expected an error for an unsupported auth_method")
	}
}

func TestHostKeyCallbackDefaultsToInsecureAccept(t *testing.T) {
	am := NewAuthManager()
	cb, err := am.HostKeyCallback("", "")
	if err != nil {
		t.Fatalf("HostKeyCallback() error = %v", err)
	}
	if cb == nil {
		t.Fatal("expected a non-nil callback for the default policy")
	}
}

func TestHostKeyCallbackAskRecordsToFile(t *testing.T) {
	am := NewAuthManager()
	knownHosts := t.TempDir() + "/known_hosts"

	cb, err := am.HostKeyCallback("ask", knownHosts)
	if err != nil {
		t.Fatalf("HostKeyCallback() error = %v", err)
	}

	signer := generateTestSigner(t)
	if err := cb("example.com:22", nil, signer.PublicKey()); err != nil {
		t.Fatalf("callback returned error = %v", err)
	}

	data, err := os.ReadFile(knownHosts)
	if err != nil {
		t.Fatalf("failed to read recorded known_hosts file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected the host key to have been recorded")
	}
}

func TestHostKeyCallbackRejectsUnknownPolicy(t *testing.T) {
	am := NewAuthManager()
	if _, err := am.HostKeyCallback("paranoid", ""); err == nil {
		t.Fatal("expected an error for an unknown host key policy")
	}
}
