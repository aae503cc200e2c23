package crypto

import (
	"encoding/hex"
	"strings"
	"testing"
)

// Requirement: Hash is deterministic lowercase hex SHA-256
func TestHash_KnownDigests(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "test string", input: "Test string", want: "a3e49d843df13c2e2a7786f6ecd7e0d184f45d718d1ac1a8a63e570466e489dd"},
		{name: "empty string", input: "", want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Act
			got := Hash(test.input)

			// Assert
			if got != test.want {
				t.Errorf("Hash(%q) = %q, want %q", test.input, got, test.want)
			}
			if len(got) != HashLength {
				t.Errorf("len(Hash()) = %d, want %d", len(got), HashLength)
			}
			if strings.ToLower(got) != got {
				t.Errorf("Hash() should be lowercase, got %q", got)
			}
		})
	}
}

func TestHash_DifferentInputsDiffer(t *testing.T) {
	if Hash("Test string") == Hash("Test string ") {
		t.Error("different inputs should produce different hashes")
	}
	if Hash("x") != Hash("x") {
		t.Error("same input should produce the same hash")
	}
}

func TestCompareHash(t *testing.T) {
	hash := Hash("Test string")

	if !CompareHash("Test string", hash) {
		t.Error("CompareHash() should match its own hash")
	}
	if CompareHash("test string", hash) {
		t.Error("CompareHash() should not match a different plaintext")
	}
	if CompareHash("Test string", "") {
		t.Error("CompareHash() should not match an empty hash")
	}
}

// Requirement: generated tokens verify with their own raw token and secret only
func TestVerifyToken_RoundTrip(t *testing.T) {
	secret := "csrf-secret"
	pair := GenerateHashedToken(secret)

	tests := []struct {
		name   string
		stored string
		raw    string
		secret string
		want   bool
	}{
		{name: "valid pair", stored: pair.Value(), raw: pair.Token, secret: secret, want: true},
		{name: "different raw token", stored: pair.Value(), raw: pair.Token + "x", secret: secret, want: false},
		{name: "different secret", stored: pair.Value(), raw: pair.Token, secret: "other", want: false},
		{name: "tampered token half", stored: "a" + pair.Token[1:] + Separator + pair.Hash, raw: pair.Token, secret: secret, want: false},
		{name: "tampered hash half", stored: pair.Token + Separator + Hash("forged"), raw: pair.Token, secret: secret, want: false},
		{name: "forged self-consistent cookie", stored: "forged" + Separator + Hash("forged"), raw: "forged", secret: secret, want: false},
		{name: "missing hash", stored: pair.Token + Separator, raw: pair.Token, secret: secret, want: false},
		{name: "no separator", stored: pair.Token, raw: pair.Token, secret: secret, want: false},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Act
			got, err := VerifyToken(test.stored, test.raw, test.secret)

			// Assert
			if err != nil {
				t.Fatalf("VerifyToken() error = %v", err)
			}
			if got != test.want {
				t.Errorf("VerifyToken() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestVerifyToken_EmptyInput(t *testing.T) {
	if _, err := VerifyToken("", "raw", "secret"); err != ErrEmptyToken {
		t.Errorf("VerifyToken() error = %v, want %v", err, ErrEmptyToken)
	}
	if _, err := VerifyToken("a_b", "", "secret"); err != ErrEmptyToken {
		t.Errorf("VerifyToken() error = %v, want %v", err, ErrEmptyToken)
	}
}

func TestGenerateHashedToken_Unique(t *testing.T) {
	// Arrange
	seen := make(map[string]bool)
	iterations := 1000

	// Act
	for i := 0; i < iterations; i++ {
		pair := GenerateHashedToken("secret")
		if seen[pair.Token] {
			t.Fatalf("duplicate token generated: %q", pair.Token)
		}
		seen[pair.Token] = true

		// Assert
		if strings.Contains(pair.Token, Separator) || strings.Contains(pair.Token, "-") {
			t.Fatalf("token contains reserved characters: %q", pair.Token)
		}
		raw, err := hex.DecodeString(pair.Token)
		if err != nil || len(raw) != DefaultTokenLength {
			t.Fatalf("token must carry %d random bytes, got %q", DefaultTokenLength, pair.Token)
		}
		if len(pair.Hash) != HashLength {
			t.Fatalf("len(Hash) = %d, want %d", len(pair.Hash), HashLength)
		}
	}
}
