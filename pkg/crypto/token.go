package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// HashLength is the length of a hex encoded SHA-256 digest.
	HashLength = 64

	// Separator joins the two halves of combined values (iv/ciphertext,
	// token/hash). Neither standard base64 nor hex produce it.
	Separator = "_"

	DefaultTokenLength = 32 // 256 bits
)

var (
	ErrEmptyToken = errors.New("token and hash cannot be empty")
)

type TokenPair struct {
	Token string // value echoed back by the client
	Hash  string // Hash(Token + secret)
}

// Value renders the pair the way it is stored in a cookie.
func (p *TokenPair) Value() string {
	return p.Token + Separator + p.Hash
}

// Hash returns the lowercase hex SHA-256 digest of the UTF-8 bytes of plainText.
func Hash(plainText string) string {
	sum := sha256.Sum256([]byte(plainText))
	return hex.EncodeToString(sum[:])
}

// CompareHash recomputes the digest of plainText and compares it to rawHash.
func CompareHash(plainText, rawHash string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(plainText)), []byte(rawHash)) == 1
}

// generateToken returns byteLength random bytes, hex encoded so the token
// never contains Separator.
func generateToken(byteLength int) string {
	if byteLength <= 0 {
		byteLength = DefaultTokenLength
	}

	bytes := make([]byte, byteLength)
	// crypto/rand.Read never returns an error
	_, _ = rand.Read(bytes)

	return hex.EncodeToString(bytes)
}

// GenerateHashedToken creates a random token bound to secret.
func GenerateHashedToken(secret string) *TokenPair {
	token := generateToken(DefaultTokenLength)

	return &TokenPair{
		Token: token,
		Hash:  Hash(token + secret),
	}
}

// SplitToken splits a stored "{token}_{hash}" value. ok is false when either
// half is missing.
func SplitToken(value string) (token, hash string, ok bool) {
	token, hash, found := strings.Cut(value, Separator)
	if !found || token == "" || hash == "" {
		return "", "", false
	}
	return token, hash, true
}

// VerifyToken checks that the stored value was issued with secret and that it
// carries rawToken. Both conditions are required.
func VerifyToken(stored, rawToken, secret string) (bool, error) {
	if stored == "" || rawToken == "" {
		return false, ErrEmptyToken
	}

	token, tokenHash, ok := SplitToken(stored)
	if !ok {
		return false, nil
	}

	hashesMatch := CompareHash(token+secret, tokenHash)
	tokensMatch := subtle.ConstantTimeCompare([]byte(token), []byte(rawToken)) == 1

	return hashesMatch && tokensMatch, nil
}
