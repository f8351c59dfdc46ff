package model

import "testing"

func TestNetworkAddressRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		host string
		port int
	}{
		{"127.0.0.1:9000", "127.0.0.1", 9000},
		{"qkd.internal:443", "qkd.internal", 443},
	}
	for _, tt := range tests {
		addr, err := ParseNetworkAddress(tt.in)
		if err != nil {
			t.Fatalf("ParseNetworkAddress(%q) error: %v", tt.in, err)
		}
		if addr.Host != tt.host || addr.Port != tt.port {
			t.Errorf("ParseNetworkAddress(%q) = %+v, want host=%q port=%d", tt.in, addr, tt.host, tt.port)
		}
		if got := addr.String(); got != tt.in {
			t.Errorf("String() = %q, want %q", got, tt.in)
		}
	}
}

func TestParseNetworkAddressInvalid(t *testing.T) {
	if _, err := ParseNetworkAddress("not-an-address"); err == nil {
		t.Error("expected error for malformed address")
	}
}

func TestParseHybridizationMethod(t *testing.T) {
	tests := []struct {
		in   string
		want HybridizationMethod
	}{
		{"XOR", HybridizationXOR},
		{"xor", HybridizationXOR},
		{"Hmac", HybridizationHMAC},
		{"XORHMAC", HybridizationXORHMAC},
		{"xorhmac", HybridizationXORHMAC},
	}
	for _, tt := range tests {
		got, err := ParseHybridizationMethod(tt.in)
		if err != nil {
			t.Fatalf("ParseHybridizationMethod(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseHybridizationMethod(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseHybridizationMethod("bogus"); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestKeyExtractionAlgorithmKeyType(t *testing.T) {
	tests := []struct {
		alg  KeyExtractionAlgorithm
		want KeyType
	}{
		{AlgorithmQKD, KeyTypeQKD},
		{AlgorithmKyber, KeyTypePQC},
		{AlgorithmMLKEM, KeyTypePQC},
		{AlgorithmFrodoKEM, KeyTypePQC},
		{AlgorithmBIKE, KeyTypePQC},
		{AlgorithmHQC, KeyTypePQC},
		{AlgorithmClassicMcEliece, KeyTypePQC},
		{AlgorithmSNTRUP, KeyTypePQC},
		{AlgorithmClassic, KeyTypePQC},
	}
	for _, tt := range tests {
		got, err := tt.alg.KeyType()
		if err != nil {
			t.Fatalf("%v.KeyType() error: %v", tt.alg, err)
		}
		if got != tt.want {
			t.Errorf("%v.KeyType() = %v, want %v", tt.alg, got, tt.want)
		}
	}

	if _, err := KeyExtractionAlgorithm("bogus").KeyType(); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
}

func TestParseURI(t *testing.T) {
	raw := "qkd://Application1@11111111-1111-1111-1111-111111111111?hybridization=HMAC&key_sources=QKD,ML-KEM,Kyber"
	u, err := ParseURI(raw)
	if err != nil {
		t.Fatalf("ParseURI error: %v", err)
	}
	if u.Application != "Application1" {
		t.Errorf("Application = %q, want Application1", u.Application)
	}
	if u.UUID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("UUID = %q", u.UUID)
	}
	if u.Hybridization != HybridizationHMAC {
		t.Errorf("Hybridization = %v, want HMAC", u.Hybridization)
	}
	want := []KeyExtractionAlgorithm{AlgorithmQKD, AlgorithmMLKEM, AlgorithmKyber}
	if len(u.KeySources) != len(want) {
		t.Fatalf("KeySources = %v, want %v", u.KeySources, want)
	}
	for i, alg := range want {
		if u.KeySources[i] != alg {
			t.Errorf("KeySources[%d] = %v, want %v", i, u.KeySources[i], alg)
		}
	}
	if !u.HasAlgorithm(AlgorithmKyber) {
		t.Error("HasAlgorithm(Kyber) should be true")
	}
	if u.HasAlgorithm(AlgorithmHQC) {
		t.Error("HasAlgorithm(HQC) should be false")
	}
}

func TestParseURIDestinationOnly(t *testing.T) {
	u, err := ParseURI("qkd://Application4@22222222-2222-2222-2222-222222222222")
	if err != nil {
		t.Fatalf("ParseURI error: %v", err)
	}
	if u.Application != "Application4" || u.UUID != "22222222-2222-2222-2222-222222222222" {
		t.Errorf("unexpected parse result: %+v", u)
	}
	if len(u.KeySources) != 0 {
		t.Errorf("expected no key sources, got %v", u.KeySources)
	}
}

func TestParseURIMissingAuthority(t *testing.T) {
	if _, err := ParseURI("qkd://"); err == nil {
		t.Error("expected error for missing Application@uuid authority")
	}
}

func TestConnectionRoleString(t *testing.T) {
	if RoleClient.String() != "CLIENT" {
		t.Errorf("RoleClient.String() = %q", RoleClient.String())
	}
	if RoleServer.String() != "SERVER" {
		t.Errorf("RoleServer.String() = %q", RoleServer.String())
	}
}

func TestPeerSessionReferenceKey(t *testing.T) {
	ref := PeerSessionReference{Type: SessionTypeShareKSID, ID: "abc123"}
	if got, want := ref.Key(), "SHARE_KSID:abc123"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}
