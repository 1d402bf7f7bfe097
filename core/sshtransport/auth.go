package sshtransport

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sockstun/sockstun/core/tunconf"
)

// authMethod names the selectable strategies a HopSpec.Extensions
// "auth_method" value may request. Password is the default the rest of
// this system exercises; the others are opt-in escape hatches.
const (
	authMethodPassword   = "password"
	authMethodPrivateKey = "private_key"
	authMethodAgent      = "agent"
)

// AuthProvider produces ssh.AuthMethods for a hop.
type AuthProvider interface {
	GetAuthMethods(hop tunconf.HopSpec) ([]ssh.AuthMethod, error)
	GetName() string
}

type passwordAuthProvider struct{}

func (p *passwordAuthProvider) GetAuthMethods(hop tunconf.HopSpec) ([]ssh.AuthMethod, error) {
	if hop.Password == "" {
		return nil, fmt.Errorf("password is required for password authentication")
	}
	return []ssh.AuthMethod{ssh.Password(hop.Password)}, nil
}

func (p *passwordAuthProvider) GetName() string { return authMethodPassword }

type privateKeyAuthProvider struct {
	cryptoUtils *CryptoUtils
}

func newPrivateKeyAuthProvider() *privateKeyAuthProvider {
	return &privateKeyAuthProvider{cryptoUtils: NewCryptoUtils()}
}

func (p *privateKeyAuthProvider) GetAuthMethods(hop tunconf.HopSpec) ([]ssh.AuthMethod, error) {
	keyPath := hop.Extensions["private_key_path"]
	passphrase := hop.Extensions["passphrase"]

	var signer ssh.Signer
	var err error

	if keyPath != "" {
		signer, err = p.cryptoUtils.LoadPrivateKeyFromFile(keyPath, passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key from file %s: %w", keyPath, err)
		}
	} else {
		availableKeys := p.cryptoUtils.FindAvailableKeys()
		if len(availableKeys) == 0 {
			return nil, fmt.Errorf("no private keys found")
		}
		for _, candidate := range availableKeys {
			signer, err = p.cryptoUtils.LoadPrivateKeyFromFile(candidate, passphrase)
			if err == nil {
				break
			}
		}
		if signer == nil {
			return nil, fmt.Errorf("failed to load any available private keys")
		}
	}

	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func (p *privateKeyAuthProvider) GetName() string { return authMethodPrivateKey }

type agentAuthProvider struct{}

func (a *agentAuthProvider) GetAuthMethods(hop tunconf.HopSpec) ([]ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK environment variable not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
	}

	agentClient := agent.NewClient(conn)
	return []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)}, nil
}

func (a *agentAuthProvider) GetName() string { return authMethodAgent }

// AuthManager selects auth methods and host key policy for a hop.
type AuthManager struct {
	providers map[string]AuthProvider
}

func NewAuthManager() *AuthManager {
	return &AuthManager{
		providers: map[string]AuthProvider{
			authMethodPassword:   &passwordAuthProvider{},
			authMethodPrivateKey: newPrivateKeyAuthProvider(),
			authMethodAgent:      &agentAuthProvider{},
		},
	}
}

// GetAuthMethods resolves the hop's requested auth method, defaulting to
// password since that is the only field HopSpec guarantees is populated.
func (am *AuthManager) GetAuthMethods(hop tunconf.HopSpec) ([]ssh.AuthMethod, error) {
	method := strings.ToLower(hop.Extensions["auth_method"])
	if method == "" {
		method = authMethodPassword
	}

	provider, exists := am.providers[method]
	if !exists {
		return nil, fmt.Errorf("unsupported authentication method: %s", method)
	}
	return provider.GetAuthMethods(hop)
}

// HostKeyCallback builds the host key verification strategy named by
// policy: "strict" (knownhosts file), "accept" (insecure, the default),
// or "ask" (accepts every key and appends it to knownHostsFile when one
// is given; no prompt is shown).
func (am *AuthManager) HostKeyCallback(policy string, knownHostsFile string) (ssh.HostKeyCallback, error) {
	switch strings.ToLower(policy) {
	case "strict":
		if knownHostsFile == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			knownHostsFile = filepath.Join(homeDir, ".ssh", "known_hosts")
		}
		callback, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		return callback, nil

	case "ask":
		return am.acceptAndRecordCallback(knownHostsFile), nil

	case "accept", "":
		return ssh.InsecureIgnoreHostKey(), nil

	default:
		return nil, fmt.Errorf("unknown host key policy: %s", policy)
	}
}

func (am *AuthManager) acceptAndRecordCallback(knownHostsFile string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if knownHostsFile == "" {
			return nil
		}
		return am.saveHostKey(knownHostsFile, hostname, key)
	}
}

func (am *AuthManager) saveHostKey(knownHostsFile, hostname string, key ssh.PublicKey) error {
	dir := filepath.Dir(knownHostsFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	keyLine := fmt.Sprintf("%s %s\n", hostname, string(ssh.MarshalAuthorizedKey(key)))

	file, err := os.OpenFile(knownHostsFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(keyLine); err != nil {
		return fmt.Errorf("failed to write host key: %w", err)
	}
	return nil
}
