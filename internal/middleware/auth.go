package middleware

import (
	"net/http"
	"time"

	"storefront-be/internal/auth"
	"storefront-be/internal/logger"

	"go.uber.org/zap"
)

// GuestIDHeader carries a guest's id in both directions.
const GuestIDHeader = "X-Guest-ID"

// Auth resolves the caller. A valid access token yields a registered
// identity. Anything else continues as a guest, reusing the id from
// X-Guest-ID when the client sent one.
func Auth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var id auth.Identity
			if tokenStr := auth.ExtractAccessToken(r); tokenStr != "" {
				claims, err := auth.ParseToken(tokenStr, secret)
				if err == nil {
					id = auth.Identity{UserID: claims.UserID, Email: claims.Email, IsAdmin: claims.IsAdmin}
				} else {
					logger.FromCtx(ctx).Debug("access token rejected, continuing as guest", zap.Error(err))
				}
			}

			if id.UserID == "" {
				guestID := r.Header.Get(GuestIDHeader)
				if !auth.IsGuestID(guestID) {
					guestID = auth.NewGuestID(time.Now())
				}
				id = auth.Identity{UserID: guestID, IsGuest: true}
				w.Header().Set(GuestIDHeader, guestID)
			}

			ctx = auth.WithIdentity(ctx, id)
			ctx = logger.WithUserID(ctx, id.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
