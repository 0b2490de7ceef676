package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate test key failed: %v", err)
	}
	v, err := New(key)
	if err != nil {
		t.Fatalf("new vault failed: %v", err)
	}
	return v
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	for _, size := range []int{0, 16, 24, 31, 33, 64} {
		if _, err := New(make([]byte, size)); !errors.Is(err, ErrKeyMaterialInvalid) {
			t.Fatalf("key size %d: expected ErrKeyMaterialInvalid, got %v", size, err)
		}
	}
}

func TestNewFromHexRejectsNonHex(t *testing.T) {
	if _, err := NewFromHex("not-hex"); !errors.Is(err, ErrKeyMaterialInvalid) {
		t.Fatalf("expected ErrKeyMaterialInvalid, got %v", err)
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	v := newTestVault(t)
	cases := []string{
		"",
		"a",
		"STEAM-ABCD-EFGH-IJKL",
		"line1\nline2\nline3",
		strings.Repeat("x", 4096),
		"中文卡密-ключ-🔑",
	}
	for _, plaintext := range cases {
		blob, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q failed: %v", plaintext, err)
		}
		got, err := v.Decrypt(blob)
		if err != nil {
			t.Fatalf("decrypt %q failed: %v", plaintext, err)
		}
		if got != plaintext {
			t.Fatalf("roundtrip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestEncryptUsesRandomIV(t *testing.T) {
	v := newTestVault(t)
	first, err := v.Encrypt("same-plaintext")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	second, err := v.Encrypt("same-plaintext")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if first == second {
		t.Fatalf("two encryptions of the same plaintext must differ")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	v := newTestVault(t)
	blob, err := v.Encrypt("tamper-me-1234")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("decode blob failed: %v", err)
	}

	// 翻转每一个字节（IV、密文、认证标签都覆盖到），解密必须失败
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01
		if _, err := v.Decrypt(base64.StdEncoding.EncodeToString(mutated)); !errors.Is(err, ErrCiphertextInvalid) {
			t.Fatalf("byte %d: expected ErrCiphertextInvalid, got %v", i, err)
		}
	}
}

func TestDecryptRejectsMalformedBlob(t *testing.T) {
	v := newTestVault(t)
	cases := []string{
		"",
		"!!!not-base64!!!",
		base64.StdEncoding.EncodeToString([]byte("short")),
		base64.StdEncoding.EncodeToString(make([]byte, NonceSize+TagSize-1)),
	}
	for _, blob := range cases {
		if _, err := v.Decrypt(blob); !errors.Is(err, ErrCiphertextInvalid) {
			t.Fatalf("blob %q: expected ErrCiphertextInvalid, got %v", blob, err)
		}
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	a := newTestVault(t)
	b := newTestVault(t)
	blob, err := a.Encrypt("cross-key-secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := b.Decrypt(blob); !errors.Is(err, ErrCiphertextInvalid) {
		t.Fatalf("expected ErrCiphertextInvalid for wrong key, got %v", err)
	}
}

func TestHashIsStableAndDistinct(t *testing.T) {
	if Hash("abc") != Hash("abc") {
		t.Fatalf("hash must be deterministic")
	}
	if Hash("abc") == Hash("abd") {
		t.Fatalf("different inputs must not collide trivially")
	}
	if len(Hash("abc")) != 64 {
		t.Fatalf("expected sha256 hex digest")
	}
}

func TestMask(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"a", "*"},
		{"abcd", "****"},
		{"abcde", "*bcde"},
		{"STEAM-ABCD-EFGH", "***********EFGH"},
	}
	for _, tc := range cases {
		if got := Mask(tc.in); got != tc.want {
			t.Fatalf("Mask(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
