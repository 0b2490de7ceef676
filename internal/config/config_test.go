package config

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestVaultConfigKeyBytes(t *testing.T) {
	key := strings.Repeat("ab", VaultKeyBytes)
	cfg := VaultConfig{Key: key}
	got, err := cfg.KeyBytes()
	if err != nil {
		t.Fatalf("expected valid key, got error: %v", err)
	}
	if len(got) != VaultKeyBytes {
		t.Fatalf("expected %d bytes, got %d", VaultKeyBytes, len(got))
	}
	if hex.EncodeToString(got) != key {
		t.Fatalf("unexpected key material roundtrip")
	}
}

func TestVaultConfigKeyBytesRejectsMissing(t *testing.T) {
	if _, err := (VaultConfig{}).KeyBytes(); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if _, err := (VaultConfig{Key: "   "}).KeyBytes(); err == nil {
		t.Fatalf("expected error for blank key")
	}
}

func TestVaultConfigKeyBytesRejectsBadLength(t *testing.T) {
	if _, err := (VaultConfig{Key: "abcd"}).KeyBytes(); err == nil {
		t.Fatalf("expected error for short key")
	}
	if _, err := (VaultConfig{Key: strings.Repeat("ab", VaultKeyBytes+1)}).KeyBytes(); err == nil {
		t.Fatalf("expected error for oversize key")
	}
}

func TestVaultConfigKeyBytesRejectsNonHex(t *testing.T) {
	if _, err := (VaultConfig{Key: strings.Repeat("zz", VaultKeyBytes)}).KeyBytes(); err == nil {
		t.Fatalf("expected error for non-hex key")
	}
}
