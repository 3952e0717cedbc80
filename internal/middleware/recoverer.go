package middleware

import (
	"fmt"
	"net/http"

	"storefront-be/internal/apperror"
	"storefront-be/internal/logger"
	"storefront-be/internal/transport/response"

	"go.uber.org/zap"
)

func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := fmt.Errorf("panic: %v", rec)
				logger.FromCtx(r.Context()).Error("panic recovered", zap.Any("panic", rec), zap.Stack("stack"))
				response.WriteError(r.Context(), w, apperror.Wrap(apperror.CodeInternal, err, "panic"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
