package fiber

import (
	"github.com/gofiber/fiber/v3"

	"github.com/lborres/ironauth"
)

// Adapter mounts an IronAuth instance on a Fiber app.
type Adapter struct {
	app fiber.Router
}

func New(app fiber.Router) *Adapter {
	return &Adapter{app: app}
}

// RegisterRoutes serves every auth route under the instance's base path.
func (a *Adapter) RegisterRoutes(auth *ironauth.IronAuth) error {
	api := a.app.Group(auth.BasePath())

	// every method reaches the router, which answers unsupported ones
	api.All("/*", Handler(auth))

	return nil
}
