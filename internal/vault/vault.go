package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeySize 对称密钥长度（AES-256）
	KeySize = 32
	// NonceSize 随机 IV 长度
	NonceSize = 16
	// TagSize GCM 认证标签长度
	TagSize = 16
	// maskRevealChars 掩码展示时最多保留的尾部字符数
	maskRevealChars = 4
)

var (
	// ErrKeyMaterialInvalid 密钥材料缺失或长度不符
	ErrKeyMaterialInvalid = errors.New("vault: key material must be exactly 32 bytes")
	// ErrCiphertextInvalid 密文损坏或认证失败
	ErrCiphertextInvalid = errors.New("vault: ciphertext malformed or authentication failed")
)

// Vault 卡密加解密器。持有密钥材料的显式实例，由调用方注入，不使用进程级单例。
type Vault struct {
	aead cipher.AEAD
}

// New 创建加解密器；key 必须为 32 字节
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrKeyMaterialInvalid
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher failed: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm failed: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// NewFromHex 从 hex 编码的密钥创建加解密器
func NewFromHex(keyHex string) (*Vault, error) {
	key, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, ErrKeyMaterialInvalid
	}
	return New(key)
}

// Encrypt 加密明文，输出 base64(IV || 密文 || 认证标签)，每次调用使用随机 IV
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce failed: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	blob := make([]byte, 0, NonceSize+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt 解密 Encrypt 产出的 blob；密文被篡改或格式不合法时返回 ErrCiphertextInvalid，
// 绝不返回未通过认证的明文
func (v *Vault) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return "", ErrCiphertextInvalid
	}
	if len(raw) < NonceSize+TagSize {
		return "", ErrCiphertextInvalid
	}
	nonce := raw[:NonceSize]
	plaintext, err := v.aead.Open(nil, nonce, raw[NonceSize:], nil)
	if err != nil {
		return "", ErrCiphertextInvalid
	}
	return string(plaintext), nil
}

// Hash 计算明文的去重摘要（SHA-256 hex），用于重复卡密检测，不保留明文
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Mask 掩码展示卡密：最多保留末 4 位；长度不足 5 位时整串掩码
func Mask(plaintext string) string {
	runes := []rune(plaintext)
	if len(runes) <= maskRevealChars {
		return strings.Repeat("*", len(runes))
	}
	masked := strings.Repeat("*", len(runes)-maskRevealChars)
	return masked + string(runes[len(runes)-maskRevealChars:])
}
