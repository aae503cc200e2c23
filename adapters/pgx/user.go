package pgx

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/ironauth/core"
)

func createUser(ctx context.Context, tx pgx.Tx, input core.CreateAccountInput) (*core.User, error) {
	query := `INSERT INTO public.users (username, name, email, image) VALUES ($1, $2, $3, $4) RETURNING id::text`

	user := &core.User{
		Username: input.Username,
		Name:     input.Name,
		Email:    input.Email,
		Image:    input.Image,
	}
	err := tx.QueryRow(ctx, query, user.Username, user.Name, user.Email, user.Image).Scan(&user.ID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func getUserByID(ctx context.Context, tx pgx.Tx, id string) (*core.User, error) {
	q := `SELECT id::text, username, name, email, image FROM public.users WHERE id = $1::uuid`

	user := &core.User{}
	err := tx.QueryRow(ctx, q, id).Scan(&user.ID, &user.Username, &user.Name, &user.Email, &user.Image)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}
