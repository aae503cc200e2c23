package core

import "context"

// Session is the state held by the sealed session cookie.
type Session struct {
	User *User `json:"user,omitempty"`
}

// Valid reports whether the session carries a signed-in user.
func (s *Session) Valid() bool {
	return s != nil && s.User != nil && s.User.ID != ""
}

// ValidSession returns s when it is valid, NO_SESSION otherwise.
func ValidSession(s *Session) (*Session, error) {
	if s.Valid() {
		return s, nil
	}
	return nil, NewError(CodeNoSession, "Session not found")
}

// MergeUser applies the non-nil fields of patch onto the session user.
// With override set the user is replaced instead.
func (s *Session) MergeUser(patch *User, override bool) {
	if override || s.User == nil {
		s.User = patch
		return
	}
	if patch == nil {
		return
	}

	merged := *s.User
	if patch.ID != "" {
		merged.ID = patch.ID
	}
	if patch.Username != nil {
		merged.Username = patch.Username
	}
	if patch.Name != nil {
		merged.Name = patch.Name
	}
	if patch.Email != nil {
		merged.Email = patch.Email
	}
	if patch.Image != nil {
		merged.Image = patch.Image
	}
	s.User = &merged
}

// SessionStore is the sealed session container.
//
// Read never fails on a missing, expired or tampered cookie; it returns an
// empty Session instead.
type SessionStore interface {
	Read(ctx context.Context, req *Request) (*Session, error)
	Save(ctx context.Context, session *Session, header *Header) error
	Destroy(ctx context.Context, header *Header) error
}
