package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lborres/ironauth/core"
	"github.com/lborres/ironauth/pkg/crypto"
)

// Route names
const (
	RouteSession     = "session"
	RouteCSRF        = "csrf"
	RouteSignUp      = "signup"
	RouteSignIn      = "signin"
	RouteSignOut     = "signout"
	RouteLinkAccount = "linkaccount"
)

// AuthService implements the authentication routes on top of an adapter and
// a session store.
type AuthService struct {
	sessions core.SessionStore
	cipher   *crypto.Cipher
}

// Ensure AuthService provides endpoints
var _ core.EndpointProvider = (*AuthService)(nil)

func NewAuthService(sessions core.SessionStore, cipher *crypto.Cipher) *AuthService {
	if cipher == nil {
		cipher = crypto.Default()
	}
	return &AuthService{
		sessions: sessions,
		cipher:   cipher,
	}
}

// GetEndpoints returns the built-in routes.
func (s *AuthService) GetEndpoints() []core.Endpoint {
	return []core.Endpoint{
		{
			Path:    RouteSession,
			Method:  "GET",
			Handler: s.Session,
			Metadata: core.EndpointMetadata{
				OperationID: "getSession",
				Description: "Get the current user's session data",
			},
		},
		{
			Path:    RouteCSRF,
			Method:  "GET",
			Handler: s.CSRF,
			Metadata: core.EndpointMetadata{
				OperationID: "getCsrfToken",
				Description: "Issue a CSRF token and set its cookie",
			},
		},
		{
			Path:    RouteSignUp,
			Method:  "POST",
			Handler: s.SignUp,
			Metadata: core.EndpointMetadata{
				OperationID: "signUp",
				Description: "Create an account and sign the user in",
				CSRF:        true,
			},
		},
		{
			Path:    RouteSignIn,
			Method:  "POST",
			Handler: s.SignIn,
			Metadata: core.EndpointMetadata{
				OperationID: "signIn",
				Description: "Sign in with an existing account",
				CSRF:        true,
			},
		},
		{
			Path:    RouteSignOut,
			Method:  "POST",
			Handler: s.SignOut,
			Metadata: core.EndpointMetadata{
				OperationID: "signOut",
				Description: "Sign out the current user and clear the session",
				CSRF:        true,
			},
		},
		{
			Path:    RouteLinkAccount,
			Method:  "POST",
			Handler: s.LinkAccount,
			Metadata: core.EndpointMetadata{
				OperationID: "linkAccount",
				Description: "Attach another account to the signed-in user",
				CSRF:        true,
			},
		},
	}
}

// Session returns the current session or NO_SESSION.
func (s *AuthService) Session(ctx context.Context, rc *core.RouteContext) (any, error) {
	return core.ValidSession(rc.Session)
}

// CSRF issues a new CSRF token.
func (s *AuthService) CSRF(ctx context.Context, rc *core.RouteContext) (any, error) {
	return IssueCSRFToken(rc.Config, rc.Header), nil
}

// SignUp creates an account for the request credentials. With account
// linking on signup enabled, a signed-in user gets the account attached.
func (s *AuthService) SignUp(ctx context.Context, rc *core.RouteContext) (any, error) {
	const failMessage = "Unexpected error creating account"

	provider, err := AssertProvider(rc.Request, rc.Config, core.MethodSignUp)
	if err != nil {
		return nil, err
	}
	credentials, creds, err := credentialsFor(rc.Request, provider, failMessage)
	if err != nil {
		return nil, err
	}

	user, err := s.signUp(ctx, rc, credentials, creds)
	if err != nil {
		return nil, s.boundary(rc, "Error creating user", failMessage, err)
	}
	return user, nil
}

func (s *AuthService) signUp(ctx context.Context, rc *core.RouteContext, p *core.CredentialsProvider, creds *core.Credentials) (*core.User, error) {
	if !rc.Config.AccountLinkingOnSignup && rc.Session.Valid() {
		return nil, core.NewError(core.CodeBadRequest, "Already signed in")
	}

	accountData, err := s.sealPassword(rc.Config, creds.Password)
	if err != nil {
		return nil, err
	}

	var userID string
	if rc.Session.Valid() {
		userID = rc.Session.User.ID
	}

	data, err := s.createAccount(ctx, rc.Config.Adapter, core.CreateAccountInput{
		UserID:      userID,
		Type:        core.ProviderCredentials,
		ProviderID:  p.ID,
		AccountID:   creds.Email,
		AccountData: &accountData,
		Email:       &creds.Email,
	})
	if err != nil {
		return nil, err
	}

	user := data.User
	rc.Session.User = &user
	if err := s.sessions.Save(ctx, rc.Session, rc.Header); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return &user, nil
}

// SignIn verifies the request credentials against the stored account.
func (s *AuthService) SignIn(ctx context.Context, rc *core.RouteContext) (any, error) {
	const failMessage = "Unexpected error signing in"

	provider, err := AssertProvider(rc.Request, rc.Config, core.MethodSignIn)
	if err != nil {
		return nil, err
	}
	credentials, creds, err := credentialsFor(rc.Request, provider, failMessage)
	if err != nil {
		return nil, err
	}

	user, err := s.signIn(ctx, rc, credentials, creds)
	if err != nil {
		return nil, s.boundary(rc, "Error signing in", failMessage, err)
	}
	return user, nil
}

func (s *AuthService) signIn(ctx context.Context, rc *core.RouteContext, p *core.CredentialsProvider, creds *core.Credentials) (*core.User, error) {
	if rc.Session.Valid() {
		return nil, core.NewError(core.CodeBadRequest, "Already signed in")
	}

	account, err := rc.Config.Adapter.FindAccount(ctx, core.FindAccountQuery{
		Type:       core.ProviderCredentials,
		ProviderID: p.ID,
		AccountID:  creds.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}

	// Unknown account and wrong password must be indistinguishable.
	if account == nil || !s.passwordMatches(rc.Config, creds.Password, account.ProviderAccountData) {
		return nil, core.NewError(core.CodeUnauthorized, "Invalid credentials")
	}
	if account.User.ID == "" {
		return nil, errors.New("account has no user")
	}

	user := account.User
	rc.Session.User = &user
	if err := s.sessions.Save(ctx, rc.Session, rc.Header); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return &user, nil
}

// SignOut destroys the session.
func (s *AuthService) SignOut(ctx context.Context, rc *core.RouteContext) (any, error) {
	if rc.Session == nil || rc.Session.User == nil {
		return nil, core.NewError(core.CodeNoSession, "Session not found")
	}
	if err := s.sessions.Destroy(ctx, rc.Header); err != nil {
		return nil, s.boundary(rc, "Error signing out", "Unexpected error signing out", err)
	}
	return true, nil
}

// LinkAccount attaches the request credentials to the signed-in user.
func (s *AuthService) LinkAccount(ctx context.Context, rc *core.RouteContext) (any, error) {
	const failMessage = "Unexpected error linking account"

	if !rc.Session.Valid() {
		return nil, core.NewError(core.CodeBadRequest, "Not signed in")
	}

	provider, err := AssertProvider(rc.Request, rc.Config, core.MethodLinkAccount)
	if err != nil {
		return nil, err
	}
	credentials, creds, err := credentialsFor(rc.Request, provider, "Provider type not supported")
	if err != nil {
		return nil, err
	}

	accountData, err := s.sealPassword(rc.Config, creds.Password)
	if err != nil {
		return nil, s.boundary(rc, "Error linking account", failMessage, err)
	}

	data, err := s.createAccount(ctx, rc.Config.Adapter, core.CreateAccountInput{
		UserID:      rc.Session.User.ID,
		Type:        core.ProviderCredentials,
		ProviderID:  credentials.ID,
		AccountID:   creds.Email,
		AccountData: &accountData,
		Email:       &creds.Email,
	})
	if err != nil {
		return nil, s.boundary(rc, "Error linking account", failMessage, err)
	}

	user := data.User
	return &user, nil
}

// createAccount rejects an existing (type, providerId, accountId) before
// creating it. The adapter's uniqueness check covers concurrent requests.
func (s *AuthService) createAccount(ctx context.Context, adapter core.Adapter, input core.CreateAccountInput) (*core.AccountWithUser, error) {
	existing, err := adapter.FindAccount(ctx, core.FindAccountQuery{
		Type:       input.Type,
		ProviderID: input.ProviderID,
		AccountID:  input.AccountID,
	})
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if existing != nil {
		return nil, accountExists()
	}

	data, err := adapter.Create(ctx, input)
	if errors.Is(err, core.ErrAccountExists) {
		return nil, accountExists()
	}
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if data == nil || data.User.ID == "" {
		return nil, errors.New("adapter returned no user")
	}
	return data, nil
}

func accountExists() *core.Error {
	return core.WrapError(core.CodeBadRequest, "Account already exists", core.ErrAccountExists)
}

// sealPassword encrypts password into the stored account data.
func (s *AuthService) sealPassword(cfg *core.ParsedConfig, password string) (string, error) {
	encrypted, err := s.cipher.Encrypt(password, cfg.EncryptionSecret)
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}
	data, err := json.Marshal(core.CredentialsAccountData{Hash: encrypted.Combined})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *AuthService) passwordMatches(cfg *core.ParsedConfig, password string, accountData *string) bool {
	if accountData == nil {
		return false
	}
	var data core.CredentialsAccountData
	if err := json.Unmarshal([]byte(*accountData), &data); err != nil || data.Hash == "" {
		return false
	}
	ok, err := s.cipher.Compare(password, data.Hash, cfg.EncryptionSecret)
	return err == nil && ok
}

// boundary passes typed errors through, leaving them to the request log, and
// hides everything else behind an INTERNAL_SERVER_ERROR carrying message. Only
// those unexpected causes are logged here, with logMessage.
func (s *AuthService) boundary(rc *core.RouteContext, logMessage, message string, err error) error {
	var authErr *core.Error
	if errors.As(err, &authErr) {
		return authErr
	}

	if rc.Config.Debug {
		rc.Config.Log().Error("ironauth: "+logMessage, "err", err)
	}
	return core.WrapError(core.CodeInternalServerError, message, err)
}
