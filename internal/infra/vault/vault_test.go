package vault_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"telegram-sessionguard/internal/infra/vault"
)

// testKey возвращает валидный base64-ключ из 32 повторяющихся байт.
func testKey(b byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = b
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestNew_KeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"валидный ключ 32 байта", testKey(0x11), false},
		{"пустой ключ", "", true},
		{"не base64", "%%%не-ключ%%%", true},
		{"короткий ключ", base64.StdEncoding.EncodeToString(make([]byte, 16)), true},
		{"длинный ключ", base64.StdEncoding.EncodeToString(make([]byte, 64)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := vault.New(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestVault_RoundTrip(t *testing.T) {
	v, err := vault.New(testKey(0x22))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintexts := []string{
		"1BVtsOK4Bu...session-payload",
		"короткий",
		strings.Repeat("x", 4096),
	}
	for _, plain := range plaintexts {
		enc, err := v.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if enc == plain {
			t.Fatal("ciphertext равен plaintext")
		}
		got, err := v.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plain {
			t.Fatalf("round trip: got %q, want %q", got, plain)
		}
	}

	// Два шифрования одного текста дают разные ciphertext (случайный nonce).
	a, _ := v.Encrypt("same")
	b, _ := v.Encrypt("same")
	if a == b {
		t.Fatal("повторное шифрование дало одинаковый ciphertext")
	}
}

func TestVault_EmptyPassthrough(t *testing.T) {
	v, err := vault.New(testKey(0x33))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if enc, err := v.Encrypt(""); err != nil || enc != "" {
		t.Fatalf("Encrypt(\"\") = (%q, %v), want (\"\", nil)", enc, err)
	}
	if dec, err := v.Decrypt(""); err != nil || dec != "" {
		t.Fatalf("Decrypt(\"\") = (%q, %v), want (\"\", nil)", dec, err)
	}
}

func TestVault_DecryptFailures(t *testing.T) {
	v, err := vault.New(testKey(0x44))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	valid, err := v.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Порча одного байта ciphertext.
	rawBytes, _ := base64.StdEncoding.DecodeString(valid)
	rawBytes[len(rawBytes)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(rawBytes)

	other, err := vault.New(testKey(0x55))
	if err != nil {
		t.Fatalf("New(other): %v", err)
	}

	tests := []struct {
		name  string
		vault *vault.Vault
		input string
	}{
		{"битый base64", v, "$$$not-base64$$$"},
		{"слишком короткий ciphertext", v, base64.StdEncoding.EncodeToString([]byte("tiny"))},
		{"повреждённый ciphertext", v, tampered},
		{"чужой ключ", other, valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.vault.Decrypt(tt.input)
			if err == nil {
				t.Fatal("ожидалась ошибка, получен nil")
			}
			if !errors.Is(err, vault.ErrCrypto) {
				t.Fatalf("ошибка %v не является vault.ErrCrypto", err)
			}
		})
	}
}
