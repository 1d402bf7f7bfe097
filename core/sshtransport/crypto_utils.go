package sshtransport

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// CryptoUtils provides key-handling utilities for SSH authentication.
type CryptoUtils struct{}

func NewCryptoUtils() *CryptoUtils {
	return &CryptoUtils{}
}

// LoadPrivateKey parses a private key, optionally passphrase-protected.
func (cu *CryptoUtils) LoadPrivateKey(keyData []byte, passphrase string) (ssh.Signer, error) {
	var signer ssh.Signer
	var err error

	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// LoadPrivateKeyFromFile loads a private key from a file path.
func (cu *CryptoUtils) LoadPrivateKeyFromFile(keyPath, passphrase string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	return cu.LoadPrivateKey(keyData, passphrase)
}

// ValidatePrivateKeyFile confirms a key file parses without error.
func (cu *CryptoUtils) ValidatePrivateKeyFile(keyPath, passphrase string) error {
	_, err := cu.LoadPrivateKeyFromFile(keyPath, passphrase)
	return err
}

// GetKeyFingerprint returns the SHA256 fingerprint of a public key.
func (cu *CryptoUtils) GetKeyFingerprint(publicKey ssh.PublicKey) string {
	return ssh.FingerprintSHA256(publicKey)
}

// GetDefaultKeyPaths returns the conventional SSH key locations under
// the user's home directory.
func (cu *CryptoUtils) GetDefaultKeyPaths() []string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return []string{}
	}

	sshDir := filepath.Join(homeDir, ".ssh")
	return []string{
		filepath.Join(sshDir, "id_rsa"),
		filepath.Join(sshDir, "id_ecdsa"),
		filepath.Join(sshDir, "id_ed25519"),
		filepath.Join(sshDir, "id_dsa"),
	}
}

// FindAvailableKeys returns default-location keys that parse successfully.
func (cu *CryptoUtils) FindAvailableKeys() []string {
	var availableKeys []string
	for _, keyPath := range cu.GetDefaultKeyPaths() {
		if _, err := os.Stat(keyPath); err == nil {
			if err := cu.ValidatePrivateKeyFile(keyPath, ""); err == nil {
				availableKeys = append(availableKeys, keyPath)
			}
		}
	}
	return availableKeys
}
