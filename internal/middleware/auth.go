package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/photoposts/internal/logger"
	"github.com/golang-jwt/jwt/v5"
)

var logg = logger.New()

type contextKey string

const UserCtxKey = contextKey("username")

var ErrEmptyUsername = errors.New("session: username is empty")

// IssueToken signs a session token carrying username.
func IssueToken(secret []byte, username string, ttl time.Duration) (string, error) {
	if username == "" {
		return "", ErrEmptyUsername
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"exp":      time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

// ParseToken validates a session token and returns its username.
func ParseToken(secret []byte, tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}

	username, ok := claims["username"].(string)
	if !ok || username == "" {
		return "", errors.New("invalid username in token")
	}
	return username, nil
}

// Session attaches the signed-in username to the request context when a
// valid bearer token is present. Any other request, including one with a
// malformed or expired token, continues anonymously; handlers that need a
// user check UsernameFromContext themselves.
func Session(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			username, err := ParseToken(secret, token)
			if err != nil {
				logg.Debug("auth", "Ignoring unusable session token: "+err.Error())
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), UserCtxKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// UsernameFromContext returns the signed-in username, if any.
func UsernameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(UserCtxKey).(string)
	return name, ok && name != ""
}
