package model

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	addressRe = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
	txHashRe  = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
	sha256Re  = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// NormalizeAddress приводит адрес к каноническому виду (нижний регистр, без пробелов).
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ValidateAddress нормализует адрес и проверяет формат 0x + 40 hex.
func ValidateAddress(address string) (string, error) {
	a := NormalizeAddress(address)
	if a == "" {
		return "", fmt.Errorf("адрес не задан")
	}
	if !addressRe.MatchString(a) {
		return "", fmt.Errorf("некорректный адрес %q", address)
	}
	return a, nil
}

// ValidateTxHash нормализует хеш транзакции и проверяет формат 0x + 64 hex.
func ValidateTxHash(hash string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(hash))
	if !txHashRe.MatchString(h) {
		return "", fmt.Errorf("некорректный хеш транзакции %q", hash)
	}
	return h, nil
}

// NormalizeContentHash приводит SHA-256 к хранимому виду "0x" + нижний регистр.
func NormalizeContentHash(hash string) (string, error) {
	h := StripHexPrefix(strings.ToLower(strings.TrimSpace(hash)))
	if !sha256Re.MatchString(h) {
		return "", fmt.Errorf("некорректный SHA-256 %q", hash)
	}
	return "0x" + h, nil
}

// StripHexPrefix убирает префикс "0x"/"0X", если он есть.
func StripHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
