package auth

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const identityKey contextKey = "identity"

// GuestPrefix marks identifiers of unauthenticated shoppers.
const GuestPrefix = "guest_"

// Identity is the caller of a request, registered or guest.
type Identity struct {
	UserID  string
	Email   string
	IsAdmin bool
	IsGuest bool
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext retrieves the identity set by the auth middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func IsGuestID(id string) bool {
	return strings.HasPrefix(id, GuestPrefix) && len(id) > len(GuestPrefix)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewGuestID returns guest_<unixMillis>_<9 base36 chars>.
func NewGuestID(now time.Time) string {
	var sb strings.Builder
	sb.WriteString(GuestPrefix)
	sb.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	sb.WriteByte('_')
	for range 9 {
		sb.WriteByte(base36[rand.IntN(len(base36))])
	}
	return sb.String()
}
