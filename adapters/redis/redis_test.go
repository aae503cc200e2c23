package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lborres/ironauth/core"
)

func newTestAdapter(t *testing.T) (*Adapter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	return New(rdb, WithPrefix("test")), mr
}

func input(accountID string) core.CreateAccountInput {
	data := `{"hash":"x"}`
	email := accountID
	return core.CreateAccountInput{
		Type:        core.ProviderCredentials,
		ProviderID:  "email-pass-provider",
		AccountID:   accountID,
		AccountData: &data,
		Email:       &email,
	}
}

func TestAdapter_CreateAndFind(t *testing.T) {
	// Arrange
	a, mr := newTestAdapter(t)
	ctx := context.Background()

	// Act
	created, err := a.Create(ctx, input("a@example.com"))

	// Assert
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !mr.Exists("test:account:email-pass-provider:a@example.com") || !mr.Exists("test:user:" + created.User.ID) {
		t.Errorf("expected account and user keys, got %v", mr.Keys())
	}

	found, err := a.FindAccount(ctx, core.FindAccountQuery{Type: core.ProviderCredentials, ProviderID: "email-pass-provider", AccountID: "a@example.com"})
	if err != nil || found == nil {
		t.Fatalf("FindAccount: %v %v", found, err)
	}
	if found.User.ID != created.User.ID || *found.User.Email != "a@example.com" {
		t.Errorf("unexpected user %+v", found.User)
	}
	if found.ProviderAccountData == nil || *found.ProviderAccountData != `{"hash":"x"}` {
		t.Error("provider account data must survive storage")
	}
}

func TestAdapter_FindAccountFilters(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()
	created, _ := a.Create(ctx, input("a@example.com"))

	tests := []struct {
		name  string
		query core.FindAccountQuery
		found bool
	}{
		{name: "match", query: core.FindAccountQuery{ProviderID: "email-pass-provider", AccountID: "a@example.com"}, found: true},
		{name: "match user", query: core.FindAccountQuery{ProviderID: "email-pass-provider", AccountID: "a@example.com", UserID: created.User.ID}, found: true},
		{name: "other user", query: core.FindAccountQuery{ProviderID: "email-pass-provider", AccountID: "a@example.com", UserID: "nope"}},
		{name: "other type", query: core.FindAccountQuery{Type: core.ProviderOAuth, ProviderID: "email-pass-provider", AccountID: "a@example.com"}},
		{name: "unknown account", query: core.FindAccountQuery{ProviderID: "email-pass-provider", AccountID: "b@example.com"}},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			got, err := a.FindAccount(ctx, test.query)

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (got != nil) != test.found {
				t.Errorf("found = %v, want %v", got != nil, test.found)
			}
		})
	}
}

func TestAdapter_Linking(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()
	first, _ := a.Create(ctx, input("a@example.com"))

	linked := input("b@example.com")
	linked.UserID = first.User.ID
	second, err := a.Create(ctx, linked)
	if err != nil || second.User.ID != first.User.ID {
		t.Fatalf("linking must reuse the user, got %+v (%v)", second, err)
	}

	keys, err := a.AccountKeys(ctx, first.User.ID)
	if err != nil || len(keys) != 2 {
		t.Errorf("expected 2 account keys, got %v (%v)", keys, err)
	}

	orphan := input("c@example.com")
	orphan.UserID = "missing"
	if _, err := a.Create(ctx, orphan); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

// Requirement: concurrent creates of the same account yield exactly one
// success and leave a single user behind.
func TestAdapter_CreateIsUnique(t *testing.T) {
	a, mr := newTestAdapter(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Create(context.Background(), input("a@example.com"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, core.ErrAccountExists):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one success, got %d", ok)
	}

	users := 0
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "test:user:") && !strings.HasSuffix(key, ":accounts") {
			users++
		}
	}
	if users != 1 {
		t.Errorf("expected one user record, got %d (%v)", users, mr.Keys())
	}
}
