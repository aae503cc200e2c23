package core

import (
	"fmt"

	"golang.org/x/oauth2"
)

// ProviderType discriminates the provider variants.
type ProviderType string

const (
	ProviderCredentials ProviderType = "credentials"
	ProviderOAuth       ProviderType = "oauth"
	ProviderOIDC        ProviderType = "oidc"
)

// ProviderIdentifier names a provider. (Type, ID) is unique in a config.
type ProviderIdentifier struct {
	Type ProviderType `json:"type"`
	ID   string       `json:"id"`
}

// Provider is one of *CredentialsProvider, *OAuthProvider or *OIDCProvider.
type Provider interface {
	Identifier() ProviderIdentifier
	DisplayName() string
	Validate() error

	isProvider()
}

// Credentials is what a credentials precheck extracts from a request.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CredentialsProvider authenticates with an email and password.
type CredentialsProvider struct {
	ID   string
	Name string

	// Precheck validates the request body before any route logic runs.
	Precheck func(req *Request) (*Credentials, error)
}

func (p *CredentialsProvider) Identifier() ProviderIdentifier {
	return ProviderIdentifier{Type: ProviderCredentials, ID: p.ID}
}

func (p *CredentialsProvider) DisplayName() string { return p.Name }

func (p *CredentialsProvider) Validate() error {
	if p.ID == "" || p.Name == "" {
		return fmt.Errorf("%w: id and name", ErrInvalidProviderConfig)
	}
	if p.Precheck == nil {
		return fmt.Errorf("%w: precheck", ErrInvalidProviderConfig)
	}
	return nil
}

func (*CredentialsProvider) isProvider() {}

// UserInfo is the normalized profile returned by an OAuth/OIDC provider.
type UserInfo struct {
	ID       string
	Username *string
	Name     *string
	Email    *string
	Image    *string
}

// OAuthProvider describes an OAuth 2.0 provider. Only the configuration is
// modelled; the authorization flow itself is not served.
type OAuthProvider struct {
	ID           string
	Name         string
	ClientID     string
	ClientSecret string

	Endpoint     oauth2.Endpoint
	Scopes       []string
	SupportsPKCE bool

	UserInfoURL   string
	ParseUserInfo func(profile map[string]any) (*UserInfo, error)
}

func (p *OAuthProvider) Identifier() ProviderIdentifier {
	return ProviderIdentifier{Type: ProviderOAuth, ID: p.ID}
}

func (p *OAuthProvider) DisplayName() string { return p.Name }

func (p *OAuthProvider) Validate() error {
	switch {
	case p.ID == "" || p.Name == "":
		return fmt.Errorf("%w: id and name", ErrInvalidProviderConfig)
	case p.ClientID == "" || p.ClientSecret == "":
		return fmt.Errorf("%w: client options", ErrInvalidProviderConfig)
	case p.Endpoint.AuthURL == "" || len(p.Scopes) == 0:
		return fmt.Errorf("%w: authorization", ErrInvalidProviderConfig)
	case p.Endpoint.TokenURL == "":
		return fmt.Errorf("%w: token", ErrInvalidProviderConfig)
	case p.UserInfoURL == "" || p.ParseUserInfo == nil:
		return fmt.Errorf("%w: userInfo", ErrInvalidProviderConfig)
	}
	return nil
}

// OAuth2Config returns the client configuration for redirectURL.
func (p *OAuthProvider) OAuth2Config(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     p.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       p.Scopes,
	}
}

func (*OAuthProvider) isProvider() {}

// OIDCProvider describes an OpenID Connect provider found through discovery.
type OIDCProvider struct {
	ID           string
	Name         string
	ClientID     string
	ClientSecret string

	DiscoveryURL  string
	Scopes        []string
	ParseUserInfo func(claims map[string]any) (*UserInfo, error)
}

func (p *OIDCProvider) Identifier() ProviderIdentifier {
	return ProviderIdentifier{Type: ProviderOIDC, ID: p.ID}
}

func (p *OIDCProvider) DisplayName() string { return p.Name }

func (p *OIDCProvider) Validate() error {
	switch {
	case p.ID == "" || p.Name == "":
		return fmt.Errorf("%w: id and name", ErrInvalidProviderConfig)
	case p.ClientID == "" || p.ClientSecret == "":
		return fmt.Errorf("%w: client options", ErrInvalidProviderConfig)
	case p.DiscoveryURL == "":
		return fmt.Errorf("%w: discovery", ErrInvalidProviderConfig)
	case len(p.Scopes) == 0:
		return fmt.Errorf("%w: authorization", ErrInvalidProviderConfig)
	case p.ParseUserInfo == nil:
		return fmt.Errorf("%w: userInfo", ErrInvalidProviderConfig)
	}
	return nil
}

func (*OIDCProvider) isProvider() {}
