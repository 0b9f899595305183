package access

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/pantrybase/pantrybase/core/logger"
)

// sessionCookie is accepted as an alternative to the Authorization header,
// for the benefit of simple frontend development.
const sessionCookie = "Pantrybase-JWT"

// JwtMiddlewareBuilder is a helper builder for the JWT middleware
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC secret the tokens are signed with. Mandatory.
	Secret []byte
	// Issuer, if set, is verified against the token's iss claim.
	Issuer string
}

type sessionClaims struct {
	Permissions []Permission `json:"permissions"`
	jwt.RegisteredClaims
}

// NewJwtMiddleware returns a middleware handler that authorizes requests from
// a signed bearer token or session cookie.
//
// The token's subject becomes the authorization's username, the permissions
// claim becomes its permission list. Requests without a token pass through
// unauthorized; requests with an invalid token are rejected.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 {
		panic("jwt middleware requires a secret")
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return jmb.Secret, nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized?
				h.ServeHTTP(w, r)
				return
			}
			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
				tokenString = bearer[7:]
			} else if cookie, _ := r.Cookie(sessionCookie); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r)
				return
			}

			claims := sessionClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, keyFunc)
			if err != nil || !token.Valid {
				logger.FromContext(r.Context()).WithError(err).Infoln("rejected session token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if jmb.Issuer != "" && claims.Issuer != jmb.Issuer {
				http.Error(w, "invalid token issuer", http.StatusUnauthorized)
				return
			}

			auth := &Authorization{
				Username:    claims.Subject,
				Permissions: claims.Permissions,
			}
			ctx := auth.ContextWithAuthorization(r.Context())
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.Username)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewSessionToken creates a signed session token for the given user and
// permissions. Used by login flows and by tests.
func NewSessionToken(secret []byte, issuer, username string, permissions ...Permission) (string, error) {
	claims := sessionClaims{
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  issuer,
			Subject: username,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
