package context

import (
	"context"
	"net/http"
)

type contextKey string

const (
	authenticatedOwnerContextKey = contextKey("authenticatedOwner")
)

// ContextSetAuthenticatedOwner stores the wallet owner id taken from a
// verified bearer token. Sessions are issued elsewhere; only the subject is
// trusted here.
func ContextSetAuthenticatedOwner(r *http.Request, ownerID string) *http.Request {
	ctx := context.WithValue(r.Context(), authenticatedOwnerContextKey, ownerID)
	return r.WithContext(ctx)
}

func ContextGetAuthenticatedOwner(r *http.Request) string {
	ownerID, ok := r.Context().Value(authenticatedOwnerContextKey).(string)
	if !ok {
		return ""
	}

	return ownerID
}
