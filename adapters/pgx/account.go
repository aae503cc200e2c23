package pgx

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lborres/ironauth/core"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	invalidTextValue    = "22P02"
)

// Create inserts the account, and its user when input.UserID is empty, in
// one transaction.
func (a *Adapter) Create(ctx context.Context, input core.CreateAccountInput) (*core.AccountWithUser, error) {
	var result *core.AccountWithUser

	err := pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		var user *core.User
		var err error
		if input.UserID == "" {
			user, err = createUser(ctx, tx, input)
		} else {
			user, err = getUserByID(ctx, tx, input.UserID)
		}
		if err != nil {
			return err
		}

		query := `INSERT INTO public.accounts (user_id, type, provider, provider_account_id, provider_account_data)
		          VALUES ($1::uuid, $2, $3, $4, $5)
		          RETURNING id::text`

		acc := core.Account{
			UserID:              user.ID,
			Type:                string(input.Type),
			Provider:            input.ProviderID,
			ProviderAccountID:   input.AccountID,
			ProviderAccountData: input.AccountData,
		}
		err = tx.QueryRow(ctx, query,
			acc.UserID, acc.Type, acc.Provider, acc.ProviderAccountID, acc.ProviderAccountData,
		).Scan(&acc.ID)
		if err != nil {
			return err
		}

		result = &core.AccountWithUser{Account: acc, User: *user}
		return nil
	})

	if err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

// FindAccount returns the account matching query with its user, or nil when
// none matches.
func (a *Adapter) FindAccount(ctx context.Context, query core.FindAccountQuery) (*core.AccountWithUser, error) {
	q := `SELECT a.id::text, a.user_id::text, a.type, a.provider, a.provider_account_id, a.provider_account_data,
	             u.username, u.name, u.email, u.image
	      FROM public.accounts a
	      JOIN public.users u ON u.id = a.user_id
	      WHERE a.provider = $1 AND a.provider_account_id = $2
	        AND ($3 = '' OR a.type = $3)
	        AND ($4 = '' OR a.user_id::text = $4)`

	res := &core.AccountWithUser{}
	err := a.pool.QueryRow(ctx, q, query.ProviderID, query.AccountID, string(query.Type), query.UserID).Scan(
		&res.ID, &res.UserID, &res.Type, &res.Provider, &res.ProviderAccountID, &res.ProviderAccountData,
		&res.User.Username, &res.User.Name, &res.User.Email, &res.User.Image,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	res.User.ID = res.UserID
	return res, nil
}

// mapError translates constraint violations into adapter errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return core.ErrAccountExists
		case foreignKeyViolation, invalidTextValue:
			return core.ErrUserNotFound
		}
	}
	return err
}
