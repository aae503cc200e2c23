package services

import (
	"github.com/lborres/ironauth/core"
)

// AssertProvider resolves the provider named by the "type" and "providerId"
// query parameters. When method is set it also enforces the disabled and
// restricted method settings for it.
func AssertProvider(req *core.Request, cfg *core.ParsedConfig, method core.Method) (core.Provider, error) {
	typ := req.QueryString("type")
	id := req.QueryString("providerId")
	if typ == "" || id == "" {
		return nil, core.NewError(core.CodeBadRequest, "Invalid provider")
	}

	provider, ok := cfg.FindProvider(core.ProviderType(typ), id)
	if !ok {
		return nil, core.NewError(core.CodeBadRequest, "Invalid provider")
	}

	if method != "" {
		if cfg.DisabledMethods[method] {
			return nil, core.NewError(core.CodeBadRequest, "This method is disabled")
		}
		if !cfg.Allowed(method, provider.Identifier()) {
			return nil, core.NewError(core.CodeBadRequest, "Provider not allowed for this method")
		}
	}

	switch p := provider.(type) {
	case *core.CredentialsProvider, *core.OAuthProvider, *core.OIDCProvider:
		if err := p.Validate(); err != nil {
			cfg.Log().Error("ironauth: invalid provider config", "provider", id, "err", err)
			return nil, core.WrapError(core.CodeConfigError, "Invalid config", err)
		}
	default:
		return nil, core.WrapError(core.CodeConfigError, "Invalid config", core.ErrInvalidProviderConfig)
	}

	return provider, nil
}

// credentialsFor runs the precheck of a credentials provider. Other provider
// types are rejected with failMessage.
func credentialsFor(req *core.Request, provider core.Provider, failMessage string) (*core.CredentialsProvider, *core.Credentials, error) {
	switch p := provider.(type) {
	case *core.CredentialsProvider:
		creds, err := p.Precheck(req)
		if err != nil {
			return nil, nil, err
		}
		if creds == nil {
			return nil, nil, core.NewError(core.CodeBadRequest, "Invalid credentials")
		}
		return p, creds, nil
	case *core.OAuthProvider, *core.OIDCProvider:
		return nil, nil, core.NewError(core.CodeBadRequest, failMessage)
	default:
		return nil, nil, core.NewError(core.CodeBadRequest, failMessage)
	}
}
