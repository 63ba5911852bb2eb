package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const (
	ctxClient    = "api_client"
	ctxClientRPS = "api_client_rps"
)

// Client is one caller allowed on the authenticated routes (typically the campaign scheduler).
type Client struct {
	Name string
	Key  string
	RPS  int // 0 uses the limiter default
}

// ClientFromCtx extracts the authenticated client name set by APIKeyMiddleware.
func ClientFromCtx(c echo.Context) (string, bool) {
	name, ok := c.Get(ctxClient).(string)
	return name, ok && name != ""
}

// APIKeyMiddleware authenticates requests using X-API-Key header.
// On success it stores the client name (and its RPS override) in context.
func APIKeyMiddleware(clients []Client) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			for _, cl := range clients {
				if cl.Key != "" && subtle.ConstantTimeCompare([]byte(cl.Key), []byte(key)) == 1 {
					c.Set(ctxClient, cl.Name)
					if cl.RPS > 0 {
						c.Set(ctxClientRPS, cl.RPS)
					}
					return next(c)
				}
			}
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		}
	}
}
