package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const IVLength = 12

var (
	ErrInvalidCombined = errors.New("invalid encrypted string")
	ErrInvalidIV       = errors.New("invalid initialization vector")
)

// Encrypted is the result of a single encryption.
type Encrypted struct {
	Encrypted string // base64 ciphertext (with GCM tag)
	IV        string // base64 IV
	Combined  string // "{IV}_{Encrypted}"
}

// Cipher performs the reversible AES-GCM operations. The random source is
// injected so callers decide where entropy comes from.
type Cipher struct {
	rand io.Reader
}

func NewCipher(random io.Reader) *Cipher {
	if random == nil {
		random = rand.Reader
	}
	return &Cipher{rand: random}
}

var defaultCipher = NewCipher(rand.Reader)

// Default returns the Cipher backed by crypto/rand.
func Default() *Cipher {
	return defaultCipher
}

func newAEAD(secret string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

// Encrypt encrypts plainText with a key derived from secret and a fresh IV.
func (c *Cipher) Encrypt(plainText, secret string) (*Encrypted, error) {
	iv := make([]byte, IVLength)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	return encryptWithIV(plainText, secret, iv)
}

func encryptWithIV(plainText, secret string, iv []byte) (*Encrypted, error) {
	if len(iv) != IVLength {
		return nil, ErrInvalidIV
	}

	aead, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, iv, []byte(plainText), nil)

	encrypted := base64.StdEncoding.EncodeToString(sealed)
	ivBase64 := base64.StdEncoding.EncodeToString(iv)

	return &Encrypted{
		Encrypted: encrypted,
		IV:        ivBase64,
		Combined:  ivBase64 + Separator + encrypted,
	}, nil
}

func splitCombined(combined string) ([]byte, string, error) {
	ivBase64, encrypted, found := strings.Cut(combined, Separator)
	if !found || ivBase64 == "" || encrypted == "" {
		return nil, "", ErrInvalidCombined
	}

	iv, err := base64.StdEncoding.DecodeString(ivBase64)
	if err != nil || len(iv) != IVLength {
		return nil, "", ErrInvalidIV
	}

	return iv, encrypted, nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(combined, secret string) (string, error) {
	iv, encrypted, err := splitCombined(combined)
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", ErrInvalidCombined
	}

	aead, err := newAEAD(secret)
	if err != nil {
		return "", err
	}

	plain, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plain), nil
}

// Compare reports whether plainText encrypts to the ciphertext held in
// combined, reusing its IV. Stored data is never decrypted.
func (c *Cipher) Compare(plainText, combined, secret string) (bool, error) {
	iv, encrypted, err := splitCombined(combined)
	if err != nil {
		return false, err
	}

	result, err := encryptWithIV(plainText, secret, iv)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare([]byte(result.Encrypted), []byte(encrypted)) == 1, nil
}

func Encrypt(plainText, secret string) (*Encrypted, error) {
	return defaultCipher.Encrypt(plainText, secret)
}

func Decrypt(combined, secret string) (string, error) {
	return defaultCipher.Decrypt(combined, secret)
}

func Compare(plainText, combined, secret string) (bool, error) {
	return defaultCipher.Compare(plainText, combined, secret)
}
