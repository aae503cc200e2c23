// Package providers holds ready-made authentication providers.
package providers

import (
	"regexp"
	"unicode"

	"github.com/lborres/ironauth/core"
)

const (
	CredentialsID   = "email-pass-provider"
	CredentialsName = "Credentials"

	MinPasswordLength = 8
)

// emailPattern is the pattern browsers use for type="email" inputs. It is
// permissive: it checks shape, not deliverability.
var emailPattern = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9-]+(?:\\.[a-zA-Z0-9-]+)+$")

// Precheck failures
var (
	ErrInvalidCredentials = core.NewError(core.CodeBadRequest, "Invalid credentials")
	ErrInvalidEmail       = core.NewError(core.CodeBadRequest, "Invalid email")
	ErrInvalidPassword    = core.NewError(core.CodeBadRequest, "Invalid password")
)

type CredentialsOption func(*core.CredentialsProvider)

func WithID(id string) CredentialsOption {
	return func(p *core.CredentialsProvider) { p.ID = id }
}

func WithName(name string) CredentialsOption {
	return func(p *core.CredentialsProvider) { p.Name = name }
}

// WithPrecheck replaces the default email/password validation.
func WithPrecheck(fn func(req *core.Request) (*core.Credentials, error)) CredentialsOption {
	return func(p *core.CredentialsProvider) { p.Precheck = fn }
}

// Credentials returns an email and password provider.
func Credentials(opts ...CredentialsOption) *core.CredentialsProvider {
	p := &core.CredentialsProvider{
		ID:       CredentialsID,
		Name:     CredentialsName,
		Precheck: PrecheckCredentials,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PrecheckCredentials reads email and password from the request body.
func PrecheckCredentials(req *core.Request) (*core.Credentials, error) {
	email, okEmail := req.BodyString("email")
	password, okPassword := req.BodyString("password")

	switch {
	case !okEmail || !okPassword:
		return nil, ErrInvalidCredentials
	case !ValidEmail(email):
		return nil, ErrInvalidEmail
	case !StrongPassword(password):
		return nil, ErrInvalidPassword
	}

	return &core.Credentials{Email: email, Password: password}, nil
}

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// StrongPassword requires at least 8 characters with an upper case letter, a
// lower case letter, a digit and a character that is none of those.
func StrongPassword(password string) bool {
	var length int
	var upper, lower, digit, special bool
	for _, r := range password {
		length++
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	return length >= MinPasswordLength && upper && lower && digit && special
}
