package tunconf

import "testing"

func validHop() HopSpec {
	return HopSpec{Host: "example.com", Port: 22, User: "alice", Password: "secret"}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hop1 = validHop()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() with a valid hop failed to validate: %v", err)
	}
}

func TestValidateRejectsOutOfRangeLocalPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hop1 = validHop()
	cfg.LocalPort = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for local_port 0")
	}

	cfg.LocalPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for local_port 70000")
	}
}

func TestValidateRejectsPrivilegedLocalPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hop1 = validHop()
	cfg.LocalPort = 80
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected local_port 80 to fail validation even though it's a valid hop port")
	}
}

func TestValidateRequiresHop1Fields(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a zero-value hop1")
	}
}

func TestValidateBridgeModeRequiresHop2(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeBridge
	cfg.Hop1 = validHop()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected bridge mode without hop2 to fail validation")
	}

	cfg.Hop2 = validHop()
	cfg.Hop2.Host = "relay.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("bridge mode with both hops set should validate: %v", err)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hop1 = validHop()
	cfg.Mode = Mode("sideways")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestHopSpecAddr(t *testing.T) {
	h := HopSpec{Host: "10.0.0.5", Port: 2222}
	if got, want := h.Addr(), "10.0.0.5:2222"; got != want {
		t.Fatalf("Addr() = %q, want %q", got, want)
	}
}
