package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/putto11262002/studyroom/pkg/router"
)

type identityKey struct{}

func contextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// IdentityFromRequest extracts the caller's identity from the request context.
// It must be called in handlers that are protected by TokenMiddleware.
// It panics if no identity is attached.
func IdentityFromRequest(r *http.Request) Identity {
	id, ok := identityFromContext(r.Context())
	if !ok {
		panic("identity not found in request context: call this function in handlers that are protected by TokenMiddleware")
	}
	return id
}

// TokenFromRequest reads the auth token from the Authorization header,
// falling back to the authToken or token query parameters.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get("authToken"); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// TokenMiddleware validates the request's token and attaches the identity
// to the request context for subsequent handlers.
func TokenMiddleware(v TokenValidator) router.Middleware {
	return func(next http.Handler) router.HandlerFunc {
		authErr := router.NewJsonError(http.StatusUnauthorized, "unauthenticated").WithKind(string(proto.CodeAuth))

		return func(w http.ResponseWriter, r *http.Request) error {
			token := TokenFromRequest(r)
			if token == "" {
				return authErr
			}

			id, err := v.ValidateToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, proto.ErrAuth) {
					return authErr
				}
				return err
			}

			next.ServeHTTP(w, r.WithContext(contextWithIdentity(r.Context(), id)))
			return nil
		}
	}
}
