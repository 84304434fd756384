package app

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/unrolled/secure"

	"github.com/loanpilot/loanpilot/internal/shared"
)

// MiddlewareStack installs the base middleware chain: request IDs, panic
// recovery, security headers, request timeout, and actor extraction.
func MiddlewareStack(cfg *Config) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg != nil && cfg.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	stack := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		secureMiddleware.Handler,
		shared.ActorMiddleware,
	}
	if cfg != nil && cfg.AppRequestTimeout > 0 {
		stack = append(stack, middleware.Timeout(cfg.AppRequestTimeout))
	}
	return stack
}
