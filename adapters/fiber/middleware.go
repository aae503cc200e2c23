package fiber

import (
	"github.com/gofiber/fiber/v3"

	"github.com/lborres/ironauth"
	"github.com/lborres/ironauth/core"
)

// Locals keys set by RequireSession.
const (
	LocalsUser    = "user"
	LocalsSession = "session"
)

// RequireSession creates a Fiber middleware that reads the sealed session
// cookie and stores the user and session in the context for downstream
// handlers.
func RequireSession(auth *ironauth.IronAuth) fiber.Handler {
	return func(c fiber.Ctx) error {
		session, err := auth.GetServerSideSession(c.Context(), rawRequest(c))
		if err != nil {
			authErr := core.AsError(err)
			return c.Status(authErr.Status()).JSON(&core.Envelope{
				Code:  authErr.Code,
				Error: authErr.Message,
			})
		}

		c.Locals(LocalsUser, session.User)
		c.Locals(LocalsSession, session)

		return c.Next()
	}
}
