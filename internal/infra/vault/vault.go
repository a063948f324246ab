// Package vault — шифрование учётных данных (MTProto-сессий) при хранении.
// Используется XChaCha20-Poly1305: случайный 24-байтовый nonce на каждую
// запись, ciphertext аутентифицирован, наружу отдаётся base64-строка.
// Ключ задаётся один раз при старте процесса; его отсутствие или мусор —
// фатальная ошибка конфигурации, а не ошибка рантайма.
//
// Пакет никогда не логирует открытый текст и не включает его в ошибки.
package vault

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCrypto объединяет все ошибки шифрования/дешифрования: повреждённый
// ciphertext, несоответствие ключа, битый base64. Проверяется через errors.Is.
var ErrCrypto = errors.New("vault: crypto failure")

// Vault шифрует и расшифровывает строки секретов. Безопасен для
// конкурентного использования: состояние после создания неизменяемо.
type Vault struct {
	key []byte
}

// New создаёт Vault из base64-ключа. Ключ обязан декодироваться ровно
// в 32 байта (chacha20poly1305.KeySize); иначе возвращается ошибка,
// которую вызывающий обязан трактовать как фатальную.
func New(base64Key string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, errors.Wrap(err, "decode encryption key")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Vault{key: key}, nil
}

// Encrypt шифрует plaintext и возвращает base64(nonce || ciphertext).
// Пустая строка проходит насквозь: отсутствие секрета остаётся отсутствием.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", errors.Wrap(ErrCrypto, err.Error())
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(ErrCrypto, "nonce: "+err.Error())
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает строку, полученную из Encrypt. Любое повреждение
// входа (base64, длина, тег аутентификации, чужой ключ) даёт ErrCrypto.
// Пустая строка проходит насквозь.
func (v *Vault) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Wrap(ErrCrypto, "base64: "+err.Error())
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", errors.Wrap(ErrCrypto, err.Error())
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.Wrap(ErrCrypto, "ciphertext shorter than nonce")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(ErrCrypto, "open: authentication failed")
	}
	return string(plain), nil
}
