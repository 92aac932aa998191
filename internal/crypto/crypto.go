// Пакет crypto — симметричное шифрование медицинских записей.
// AES-256-CBC с PKCS#7, свежие ключ и IV на каждый файл,
// SHA-256 открытого текста для проверки целостности.
package crypto

import (
	"bytes"
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
	// KeySize — длина ключа AES-256 в байтах.
	KeySize = 32
	// IVSize — длина IV (размер блока AES).
	IVSize = aes.BlockSize
)

// Ошибки криптографического движка.
var (
	// ErrEncryption — шифрование не выполнено.
	ErrEncryption = errors.New("ошибка шифрования")
	// ErrDecryption — неверный ключ, IV, шифротекст или паддинг.
	ErrDecryption = errors.New("ошибка расшифровки")
	// ErrUnavailable — внешний криптосервис недоступен.
	ErrUnavailable = errors.New("криптосервис недоступен")
)

// Envelope — результат шифрования одного файла.
type Envelope struct {
	// Ciphertext — шифротекст (сырые байты, кратен размеру блока)
	Ciphertext []byte
	// IV — вектор инициализации в base64
	IV string
	// Key — ключ в base64; передаётся владельцу и нигде не сохраняется
	Key string
	// Hash — SHA-256 открытого текста, 64 hex без префикса
	Hash string
}

// Encrypt шифрует plaintext свежими случайными ключом и IV.
func Encrypt(plaintext []byte) (*Envelope, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: генерация ключа: %v", ErrEncryption, err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: генерация IV: %v", ErrEncryption, err)
	}
	return EncryptWith(plaintext, key, iv)
}

// EncryptWith шифрует plaintext заданными ключом и IV.
func EncryptWith(plaintext, key, iv []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: длина ключа %d, ожидалось %d", ErrEncryption, len(key), KeySize)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: длина IV %d, ожидалось %d", ErrEncryption, len(iv), IVSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	// Хеш считается до паддинга
	sum := sha256.Sum256(plaintext)

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return &Envelope{
		Ciphertext: ciphertext,
		IV:         base64.StdEncoding.EncodeToString(iv),
		Key:        base64.StdEncoding.EncodeToString(key),
		Hash:       hex.EncodeToString(sum[:]),
	}, nil
}

// Decrypt расшифровывает шифротекст ключом и IV в base64.
// Любая ошибка формата или паддинга — ErrDecryption.
func Decrypt(ciphertext []byte, ivB64, keyB64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: ключ не в base64", ErrDecryption)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("%w: IV не в base64", ErrDecryption)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: длина ключа %d, ожидалось %d", ErrDecryption, len(key), KeySize)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: длина IV %d, ожидалось %d", ErrDecryption, len(iv), IVSize)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: длина шифротекста %d не кратна блоку", ErrDecryption, len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	out, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return out, nil
}

// Hash возвращает SHA-256 в нижнем регистре hex.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Verification — результат сверки хеша.
type Verification struct {
	Verified     bool
	Tampered     bool
	ComputedHash string
	ExpectedHash string
}

// Verify сравнивает SHA-256 данных с ожидаемым значением.
// Регистр и префикс 0x в expected не учитываются.
func Verify(b []byte, expected string) Verification {
	computed := Hash(b)
	exp := strings.ToLower(strings.TrimSpace(expected))
	if strings.HasPrefix(exp, "0x") {
		exp = exp[2:]
	}
	ok := computed == exp
	return Verification{
		Verified:     ok,
		Tampered:     !ok,
		ComputedHash: computed,
		ExpectedHash: exp,
	}
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("некорректная длина")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("некорректный паддинг")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("некорректный паддинг")
		}
	}
	return b[:len(b)-n], nil
}
