package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sproutly/sproutly/server/pkg/models"
)

type contextKey string

const userIDKey contextKey = "userID"

// GetUserID returns the authenticated user id, or "" when the request
// did not pass the auth middleware.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID injects a user id into the context. Test helper.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Auth validates the bearer identity token issued by the external auth
// service and extracts the subject claim as the user id. Token issuance
// and refresh live outside this service.
func Auth(secret string) func(http.Handler) http.Handler {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, found := strings.CutPrefix(header, "Bearer ")
			if !found || raw == "" {
				unauthorized(w, r, "missing bearer token")
				return
			}

			token, err := jwt.Parse(raw, keyFunc)
			if err != nil || !token.Valid {
				unauthorized(w, r, "invalid token")
				return
			}
			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				unauthorized(w, r, "token missing subject")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(models.ErrorEnvelope{
		Error: models.APIError{
			Code:      "UNAUTHORIZED",
			Message:   msg,
			Timestamp: time.Now().UTC(),
			Path:      r.URL.Path,
		},
	})
}
