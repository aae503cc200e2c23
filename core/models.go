package core

// User is the identity an account belongs to.
type User struct {
	ID       string  `json:"id"`
	Username *string `json:"username"`
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Image    *string `json:"image"`
}

// Account is one provider binding owned by a User.
//
// (Provider, ProviderAccountID) is unique.
type Account struct {
	ID                  string  `json:"id"`
	UserID              string  `json:"userId"`
	Type                string  `json:"type"`
	Provider            string  `json:"provider"`
	ProviderAccountID   string  `json:"providerAccountId"`
	ProviderAccountData *string `json:"-"` // Never expose in JSON
}

// AccountWithUser is what adapters return from Create and FindAccount.
type AccountWithUser struct {
	Account
	User User `json:"user"`
}

// CreateAccountInput creates an account, and a new user when UserID is empty.
type CreateAccountInput struct {
	UserID string

	Type        ProviderType
	ProviderID  string
	AccountID   string
	AccountData *string

	Username *string
	Name     *string
	Image    *string
	Email    *string
}

// FindAccountQuery looks up a single account.
type FindAccountQuery struct {
	UserID string

	Type        ProviderType
	ProviderID  string
	AccountID   string
	AccountData *string
}

// CredentialsAccountData is stored in ProviderAccountData for credentials
// accounts.
type CredentialsAccountData struct {
	Hash string `json:"hash"`
}

func StringPtr(s string) *string {
	return &s
}
