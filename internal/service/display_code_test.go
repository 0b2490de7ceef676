package service

import (
	"strings"
	"testing"
)

func TestGenerateDisplayCodeFormat(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code, err := GenerateDisplayCode()
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if !strings.HasPrefix(code, "ORD_") {
			t.Fatalf("missing prefix: %s", code)
		}
		if len(code) != 14 {
			t.Fatalf("unexpected length %d for %s", len(code), code)
		}
		if !IsValidDisplayCode(code) {
			t.Fatalf("generated code fails validation: %s", code)
		}
	}
}

func TestGenerateDisplayCodeUniqueness(t *testing.T) {
	const total = 100000
	seen := make(map[string]struct{}, total)
	for i := 0; i < total; i++ {
		code, err := GenerateDisplayCode()
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if _, ok := seen[code]; ok {
			t.Fatalf("duplicate code after %d generations: %s", i, code)
		}
		seen[code] = struct{}{}
	}
}

func TestIsValidDisplayCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"ORD_ABCDEFGH23", true},
		{"ORD_2345678923", true},
		{"", false},
		{"ORD_", false},
		{"ORD_ABCDEFGH2", false},    // 太短
		{"ORD_ABCDEFGH234", false},  // 太长
		{"ord_ABCDEFGH23", false},   // 前缀大小写敏感
		{"XYZ_ABCDEFGH23", false},   // 错误前缀
		{"ORD_abcdefgh23", false},   // 小写不在字符表
		{"ORD_ABCDEFGH20", false},   // 0 是易混淆字符
		{"ORD_ABCDEFGH2O", false},   // O 是易混淆字符
		{"ORD_ABCDEFGH21", false},   // 1 是易混淆字符
		{"ORD_ABCDEFGH2I", false},   // I 是易混淆字符
		{"ORD_ABCDEFGH2L", false},   // L 是易混淆字符
	}
	for _, tc := range cases {
		if got := IsValidDisplayCode(tc.code); got != tc.want {
			t.Fatalf("IsValidDisplayCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
