package service

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// displayCodeAlphabet 订单号字符表, 去掉易混淆字符 0/O/1/I/L
const displayCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const (
	displayCodePrefix = "ORD_"
	displayCodeLength = 10
)

// displayCodeCharset 用于格式校验的字符集合
var displayCodeCharset = func() map[rune]struct{} {
	set := make(map[rune]struct{}, len(displayCodeAlphabet))
	for _, ch := range displayCodeAlphabet {
		set[ch] = struct{}{}
	}
	return set
}()

// GenerateDisplayCode 生成订单展示号
func GenerateDisplayCode() (string, error) {
	var builder strings.Builder
	builder.Grow(len(displayCodePrefix) + displayCodeLength)
	builder.WriteString(displayCodePrefix)
	max := big.NewInt(int64(len(displayCodeAlphabet)))
	for i := 0; i < displayCodeLength; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		builder.WriteByte(displayCodeAlphabet[idx.Int64()])
	}
	return builder.String(), nil
}

// IsValidDisplayCode 校验订单展示号格式
func IsValidDisplayCode(code string) bool {
	if len(code) != len(displayCodePrefix)+displayCodeLength {
		return false
	}
	if !strings.HasPrefix(code, displayCodePrefix) {
		return false
	}
	for _, ch := range code[len(displayCodePrefix):] {
		if _, ok := displayCodeCharset[ch]; !ok {
			return false
		}
	}
	return true
}
