package shared

import (
	"context"
	"strconv"
	"strings"
)

type sessionContextKey struct{}

type requestMetaContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithRequestMeta stores captured HTTP request metadata in context.
func ContextWithRequestMeta(ctx context.Context, meta *RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaContextKey{}, meta)
}

// RequestMetaFromContext extracts request metadata, or nil outside a request.
func RequestMetaFromContext(ctx context.Context) *RequestMeta {
	meta, _ := ctx.Value(requestMetaContextKey{}).(*RequestMeta)
	return meta
}

// PrincipalID resolves the acting user id from the session in context.
// Anonymous traffic resolves to guestID so ACL rules for the guest account
// still apply; the boolean reports whether the id came from a real login.
func PrincipalID(ctx context.Context, guestID int64) (int64, bool) {
	sess := SessionFromContext(ctx)
	if sess == nil {
		return guestID, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return guestID, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return guestID, false
	}
	return id, true
}
