// Package memory is an in-process core.Adapter. It is meant for tests and
// local development.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lborres/ironauth/core"
)

// Ensure Adapter implements core.Adapter
var _ core.Adapter = (*Adapter)(nil)

type accountKey struct {
	provider  string
	accountID string
}

// Adapter stores users and accounts in maps. The zero value is not usable;
// use New.
type Adapter struct {
	mu       sync.RWMutex
	users    map[string]core.User
	accounts map[accountKey]core.Account

	// Call counters
	CreateCalls int
	FindCalls   int

	// Error injection
	CreateErr error
	FindErr   error
}

func New() *Adapter {
	return &Adapter{
		users:    make(map[string]core.User),
		accounts: make(map[accountKey]core.Account),
	}
}

// Create stores a new account, creating its user when input.UserID is empty.
func (a *Adapter) Create(ctx context.Context, input core.CreateAccountInput) (*core.AccountWithUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.CreateCalls++
	if a.CreateErr != nil {
		return nil, a.CreateErr
	}

	key := accountKey{provider: input.ProviderID, accountID: input.AccountID}
	if _, exists := a.accounts[key]; exists {
		return nil, core.ErrAccountExists
	}

	var user core.User
	if input.UserID != "" {
		existing, ok := a.users[input.UserID]
		if !ok {
			return nil, core.ErrUserNotFound
		}
		user = existing
	} else {
		user = core.User{
			ID:       uuid.NewString(),
			Username: input.Username,
			Name:     input.Name,
			Email:    input.Email,
			Image:    input.Image,
		}
		a.users[user.ID] = user
	}

	account := core.Account{
		ID:                  uuid.NewString(),
		UserID:              user.ID,
		Type:                string(input.Type),
		Provider:            input.ProviderID,
		ProviderAccountID:   input.AccountID,
		ProviderAccountData: input.AccountData,
	}
	a.accounts[key] = account

	return &core.AccountWithUser{Account: account, User: user}, nil
}

// FindAccount returns the matching account, or nil when none matches.
func (a *Adapter) FindAccount(ctx context.Context, query core.FindAccountQuery) (*core.AccountWithUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.FindCalls++
	if a.FindErr != nil {
		return nil, a.FindErr
	}

	account, ok := a.accounts[accountKey{provider: query.ProviderID, accountID: query.AccountID}]
	if !ok {
		return nil, nil
	}
	if query.Type != "" && account.Type != string(query.Type) {
		return nil, nil
	}
	if query.UserID != "" && account.UserID != query.UserID {
		return nil, nil
	}

	return &core.AccountWithUser{Account: account, User: a.users[account.UserID]}, nil
}

// UserCount returns the number of stored users.
func (a *Adapter) UserCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}

// AccountCount returns the number of stored accounts.
func (a *Adapter) AccountCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.accounts)
}

// Calls returns the total number of adapter calls.
func (a *Adapter) Calls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.CreateCalls + a.FindCalls
}
