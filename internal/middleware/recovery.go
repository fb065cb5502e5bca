package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"ms-events/internal/apperr"
	"ms-events/internal/logger"
	"ms-events/internal/utils"
)

// Recovery turns a handler panic into a 500 error body.
func Recovery(log *logger.Logger, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("PANIC", fmt.Sprintf("%s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack()))
				utils.WriteError(w, apperr.Internal("Internal server error", fmt.Errorf("panic: %v", rec)), devMode)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
