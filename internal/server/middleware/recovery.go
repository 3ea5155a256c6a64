// Package middleware holds warden-specific HTTP middleware. Generic concerns
// (request ids, real ip) come from chi's middleware set; only behavior that
// must speak the warden error envelope lives here.
package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/warden/internal/errors"
	"github.com/3leaps/warden/internal/observability"
)

// Recovery converts handler panics into a 500 with the standard error
// envelope instead of a dropped connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				observability.CLILogger.Error("handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec))
				apperrors.Write(w, r, http.StatusInternalServerError,
					"INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
