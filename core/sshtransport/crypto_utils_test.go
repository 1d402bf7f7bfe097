package sshtransport

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func writeTestEd25519Key(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("failed to marshal private key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	return path
}

func TestLoadPrivateKeyFromFileRoundTrips(t *testing.T) {
	path := writeTestEd25519Key(t)
	cu := NewCryptoUtils()

	signer, err := cu.LoadPrivateKeyFromFile(path, "")
	if err != nil {
		t.Fatalf("LoadPrivateKeyFromFile() error = %v", err)
	}
	if signer.PublicKey() == nil {
		t.Fatal("expected a non-nil public key from the loaded signer")
	}
}

func TestValidatePrivateKeyFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not_a_key")
	if err := os.WriteFile(path, []byte("definitely not a key"), 0600); err != nil {
		t.Fatalf("failed to write garbage file: %v", err)
	}

	cu := NewCryptoUtils()
	if err := cu.ValidatePrivateKeyFile(path, ""); err == nil {
		t.Fatal("expected an error validating a non-key file")
	}
}

func TestGetKeyFingerprintIsStable(t *testing.T) {
	path := writeTestEd25519Key(t)
	cu := NewCryptoUtils()

	signer, err := cu.LoadPrivateKeyFromFile(path, "")
	if err != nil {
		t.Fatalf("LoadPrivateKeyFromFile() error = %v", err)
	}

	fp1 := cu.GetKeyFingerprint(signer.PublicKey())
	fp2 := cu.GetKeyFingerprint(signer.PublicKey())
	if fp1 != fp2 {
		t.Fatalf("fingerprint not stable across calls: %q != %q", fp1, fp2)
	}
	if fp1 == "" {
		t.Fatal("expected a non-empty fingerprint")
	}
}

func TestGetDefaultKeyPathsUnderHome(t *testing.T) {
	cu := NewCryptoUtils()
	paths := cu.GetDefaultKeyPaths()
	if len(paths) == 0 {
		t.Fatal("expected at least one default key path")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available in this environment")
	}
	sshDir := filepath.Join(home, ".ssh")
	for _, p := range paths {
		if !strings.HasPrefix(p, sshDir) {
			t.Fatalf("path %q not under %q", p, sshDir)
		}
	}
}
