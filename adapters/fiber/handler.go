package fiber

import (
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/lborres/ironauth"
)

// Handler returns a Fiber handler running every request through auth. It is
// meant to be mounted on a wildcard route under the auth base path.
func Handler(auth *ironauth.IronAuth) fiber.Handler {
	return func(c fiber.Ctx) error {
		result := auth.Handle(c.Context(), rawRequest(c))
		return writeResult(c, result)
	}
}

// rawRequest converts a Fiber request into the runtime independent form.
func rawRequest(c fiber.Ctx) ironauth.RawRequest {
	header := http.Header{}
	for k, values := range c.GetReqHeaders() {
		for _, v := range values {
			header.Add(k, v)
		}
	}

	// fasthttp reuses the body buffer once the handler returns
	body := append([]byte(nil), c.Body()...)

	return ironauth.RawRequest{
		Method:     c.Method(),
		URL:        c.OriginalURL(),
		RouteParam: c.Params("*"),
		Header:     header,
		Body:       body,
	}
}

func writeResult(c fiber.Ctx, result ironauth.Result) error {
	for _, cookie := range result.Cookies {
		c.Append(fiber.HeaderSetCookie, cookie.String())
	}

	if result.IsRedirect() {
		return c.Redirect().Status(result.Status).To(result.Redirect)
	}
	return c.Status(result.Status).JSON(result.Body)
}
