// Package session seals the session into a tamper-evident, encrypted cookie.
package session

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/lborres/ironauth/core"
	"github.com/lborres/ironauth/pkg/cache"
	"github.com/lborres/ironauth/pkg/crypto"
)

const (
	saltLength = 16
	keyLength  = chacha20poly1305.KeySize

	passwordSeparator = "*"
	keyInfo           = "ironauth session"
)

var (
	ErrMalformedSeal   = errors.New("session: malformed sealed value")
	ErrUnknownPassword = errors.New("session: unknown password id")
	ErrExpired         = errors.New("session: expired")
	ErrNoPasswords     = errors.New("session: no passwords")
)

// Ensure CookieStore implements core.SessionStore
var _ core.SessionStore = (*CookieStore)(nil)

type sealed struct {
	User    *core.User `json:"user,omitempty"`
	Expires int64      `json:"exp"`
}

type cachedSession struct {
	user    *core.User
	expires time.Time
}

// CookieStore keeps the session in a cookie sealed with XChaCha20-Poly1305
// under a key derived from the iron password with HKDF-SHA256.
type CookieStore struct {
	passwords map[int]string
	sealID    int
	policy    core.CookiePolicy

	cache  *cache.InMemoryCache[cachedSession]
	now    func() time.Time
	rand   io.Reader
	logger *slog.Logger
}

type Option func(*CookieStore)

// WithCache caches unsealed sessions by the hash of their sealed value.
func WithCache(cfg cache.Config) Option {
	return func(s *CookieStore) { s.cache = cache.NewInMemoryCache[cachedSession](cfg) }
}

func WithClock(now func() time.Time) Option {
	return func(s *CookieStore) { s.now = now }
}

func WithRand(r io.Reader) Option {
	return func(s *CookieStore) { s.rand = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *CookieStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewCookieStore creates a store sealing with the highest password id.
func NewCookieStore(passwords map[int]string, policy core.CookiePolicy, opts ...Option) (*CookieStore, error) {
	if len(passwords) == 0 {
		return nil, ErrNoPasswords
	}

	s := &CookieStore{
		passwords: passwords,
		policy:    policy,
		now:       time.Now,
		rand:      rand.Reader,
		logger:    slog.Default(),
	}
	first := true
	for id := range passwords {
		if first || id > s.sealID {
			s.sealID = id
			first = false
		}
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FromConfig builds the store described by cfg.
func FromConfig(cfg *core.ParsedConfig, opts ...Option) (*CookieStore, error) {
	opts = append([]Option{WithLogger(cfg.Logger)}, opts...)
	return NewCookieStore(cfg.IronPasswords, cfg.Cookie(core.CookieSession), opts...)
}

// Read returns the session in req. A missing, tampered or expired cookie
// yields an empty session.
func (s *CookieStore) Read(ctx context.Context, req *core.Request) (*core.Session, error) {
	value, ok := req.Cookie(s.policy)
	if !ok {
		return &core.Session{}, nil
	}

	key := crypto.Hash(value)
	if s.cache != nil {
		if hit, err := s.cache.Get(key); err == nil && s.now().Before(hit.expires) {
			return &core.Session{User: copyUser(hit.user)}, nil
		}
	}

	data, err := s.unseal(value)
	if err != nil {
		s.logger.DebugContext(ctx, "ironauth: discarding session cookie", "err", err)
		return &core.Session{}, nil
	}

	if s.cache != nil {
		s.cache.Set(key, cachedSession{user: copyUser(data.User), expires: time.Unix(data.Expires, 0)})
	}
	return &core.Session{User: data.User}, nil
}

// Save seals session into the session cookie.
func (s *CookieStore) Save(ctx context.Context, session *core.Session, header *core.Header) error {
	if session == nil {
		session = &core.Session{}
	}

	value, err := s.Seal(session)
	if err != nil {
		return err
	}
	header.SetCookie(s.policy.Cookie(value))
	return nil
}

// Destroy clears the session cookie.
func (s *CookieStore) Destroy(ctx context.Context, header *core.Header) error {
	header.SetCookie(s.policy.Expired())
	return nil
}

// Seal encrypts session as "<passwordID>*<base64url(salt|nonce|ciphertext)>".
func (s *CookieStore) Seal(session *core.Session) (string, error) {
	payload, err := json.Marshal(sealed{
		User:    session.User,
		Expires: s.now().Add(time.Duration(s.policy.MaxAge) * time.Second).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("session: marshal: %w", err)
	}

	salt := make([]byte, saltLength)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(s.rand, salt); err != nil {
		return "", fmt.Errorf("session: salt: %w", err)
	}
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return "", fmt.Errorf("session: nonce: %w", err)
	}

	aead, err := s.aead(s.passwords[s.sealID], salt)
	if err != nil {
		return "", err
	}

	id := strconv.Itoa(s.sealID)
	out := make([]byte, 0, saltLength+len(nonce)+len(payload)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, payload, []byte(id))

	return id + passwordSeparator + base64.RawURLEncoding.EncodeToString(out), nil
}

// unseal reverses Seal with whichever password the value names.
func (s *CookieStore) unseal(value string) (*sealed, error) {
	rawID, body, ok := strings.Cut(value, passwordSeparator)
	if !ok {
		return nil, ErrMalformedSeal
	}
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return nil, ErrMalformedSeal
	}
	password, ok := s.passwords[id]
	if !ok {
		return nil, ErrUnknownPassword
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(raw) < saltLength+chacha20poly1305.NonceSizeX {
		return nil, ErrMalformedSeal
	}
	salt := raw[:saltLength]
	nonce := raw[saltLength : saltLength+chacha20poly1305.NonceSizeX]

	aead, err := s.aead(password, salt)
	if err != nil {
		return nil, err
	}
	payload, err := aead.Open(nil, nonce, raw[saltLength+chacha20poly1305.NonceSizeX:], []byte(rawID))
	if err != nil {
		return nil, ErrMalformedSeal
	}

	var data sealed
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, ErrMalformedSeal
	}
	if !s.now().Before(time.Unix(data.Expires, 0)) {
		return nil, ErrExpired
	}
	return &data, nil
}

func (s *CookieStore) aead(password string, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(password), salt, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

func copyUser(u *core.User) *core.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
