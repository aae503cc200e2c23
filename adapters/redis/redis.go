// Package redis stores users and accounts in Redis.
//
// Keys, under a configurable prefix:
//
//	<prefix>:user:<id>                      user JSON
//	<prefix>:user:<id>:accounts             set of account keys
//	<prefix>:account:<provider>:<accountID> account JSON
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lborres/ironauth/core"
)

const DefaultPrefix = "ironauth"

// createScript claims the account key and stores the user in one step, so a
// losing request never leaves an orphan user behind.
//
// KEYS: account, user, user accounts set. ARGV: account JSON, user JSON ("" to
// require an existing user).
const createScript = `
if ARGV[2] == "" and redis.call("EXISTS", KEYS[2]) == 0 then
  return -1
end
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
  return 0
end
if ARGV[2] ~= "" then
  redis.call("SET", KEYS[2], ARGV[2])
end
redis.call("SADD", KEYS[3], KEYS[1])
return 1
`

var createLua = redis.NewScript(createScript)

const (
	createdUserMissing int64 = -1
	createdConflict    int64 = 0
	createdOK          int64 = 1
)

// Adapter implements core.Adapter on a go-redis client.
type Adapter struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ core.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

// WithPrefix sets the key prefix. Defaults to DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(a *Adapter) {
		if prefix != "" {
			a.prefix = prefix
		}
	}
}

func New(rdb redis.UniversalClient, opts ...Option) *Adapter {
	a := &Adapter{rdb: rdb, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) userKey(id string) string {
	return fmt.Sprintf("%s:user:%s", a.prefix, id)
}

func (a *Adapter) userAccountsKey(id string) string {
	return fmt.Sprintf("%s:user:%s:accounts", a.prefix, id)
}

func (a *Adapter) accountKey(provider, accountID string) string {
	return fmt.Sprintf("%s:account:%s:%s", a.prefix, provider, accountID)
}

// Create stores the account, creating its user when input.UserID is empty.
func (a *Adapter) Create(ctx context.Context, input core.CreateAccountInput) (*core.AccountWithUser, error) {
	var user core.User
	var userJSON string

	if input.UserID != "" {
		existing, err := a.getUser(ctx, input.UserID)
		if err != nil {
			return nil, err
		}
		user = *existing
	} else {
		user = core.User{
			ID:       uuid.NewString(),
			Username: input.Username,
			Name:     input.Name,
			Email:    input.Email,
			Image:    input.Image,
		}
		data, err := json.Marshal(user)
		if err != nil {
			return nil, err
		}
		userJSON = string(data)
	}

	acc := storedAccount{
		ID:                  uuid.NewString(),
		UserID:              user.ID,
		Type:                string(input.Type),
		Provider:            input.ProviderID,
		ProviderAccountID:   input.AccountID,
		ProviderAccountData: input.AccountData,
	}
	accJSON, err := json.Marshal(acc)
	if err != nil {
		return nil, err
	}

	keys := []string{a.accountKey(acc.Provider, acc.ProviderAccountID), a.userKey(user.ID), a.userAccountsKey(user.ID)}
	status, err := createLua.Run(ctx, a.rdb, keys, string(accJSON), userJSON).Int64()
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	switch status {
	case createdConflict:
		return nil, core.ErrAccountExists
	case createdUserMissing:
		return nil, core.ErrUserNotFound
	}

	return &core.AccountWithUser{Account: acc.account(), User: user}, nil
}

// FindAccount returns the matching account with its user, or nil when none
// matches.
func (a *Adapter) FindAccount(ctx context.Context, query core.FindAccountQuery) (*core.AccountWithUser, error) {
	data, err := a.rdb.Get(ctx, a.accountKey(query.ProviderID, query.AccountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var acc storedAccount
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if query.Type != "" && acc.Type != string(query.Type) {
		return nil, nil
	}
	if query.UserID != "" && acc.UserID != query.UserID {
		return nil, nil
	}

	user, err := a.getUser(ctx, acc.UserID)
	if err != nil {
		return nil, err
	}
	return &core.AccountWithUser{Account: acc.account(), User: *user}, nil
}

// AccountKeys returns the account keys owned by userID.
func (a *Adapter) AccountKeys(ctx context.Context, userID string) ([]string, error) {
	return a.rdb.SMembers(ctx, a.userAccountsKey(userID)).Result()
}

func (a *Adapter) getUser(ctx context.Context, id string) (*core.User, error) {
	data, err := a.rdb.Get(ctx, a.userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	var user core.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

// storedAccount is the persisted form of core.Account. Account hides its
// provider data from JSON, so it cannot be stored directly.
type storedAccount struct {
	ID                  string  `json:"id"`
	UserID              string  `json:"userId"`
	Type                string  `json:"type"`
	Provider            string  `json:"provider"`
	ProviderAccountID   string  `json:"providerAccountId"`
	ProviderAccountData *string `json:"providerAccountData,omitempty"`
}

func (s storedAccount) account() core.Account {
	return core.Account{
		ID:                  s.ID,
		UserID:              s.UserID,
		Type:                s.Type,
		Provider:            s.Provider,
		ProviderAccountID:   s.ProviderAccountID,
		ProviderAccountData: s.ProviderAccountData,
	}
}
