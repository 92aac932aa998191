package crypto

import "context"

// Engine — локальная реализация шифрования в процессе сервиса.
// Контракт совпадает с HTTP-клиентом криптосервиса (cryptoclient).
type Engine struct{}

// NewEngine создаёт локальный движок.
func NewEngine() *Engine {
	return &Engine{}
}

// Encrypt шифрует данные. ctx проверяется только на отмену.
func (e *Engine) Encrypt(ctx context.Context, plaintext []byte) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Encrypt(plaintext)
}

// Decrypt расшифровывает данные.
func (e *Engine) Decrypt(ctx context.Context, ciphertext []byte, ivB64, keyB64 string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Decrypt(ciphertext, ivB64, keyB64)
}
