package core

import (
	"context"
	"time"
)

// Ports define interfaces for external dependencies

// ============================================
// STORAGE PORT (persistence adapter)
// ============================================

// Adapter persists users and accounts.
//
// Create must reject a duplicate (provider, accountID) with ErrAccountExists,
// even when two requests race past FindAccount. FindAccount returns nil, nil
// when nothing matches.
type Adapter interface {
	Create(ctx context.Context, input CreateAccountInput) (*AccountWithUser, error)
	FindAccount(ctx context.Context, query FindAccountQuery) (*AccountWithUser, error)
}

// ============================================
// OBSERVABILITY PORT
// ============================================

// Observer is told about every completed request.
type Observer interface {
	ObserveRequest(method, route string, code Code, elapsed time.Duration)
}
