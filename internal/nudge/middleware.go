package nudge

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/sapliy/loyalty-platform/pkg/apikey"
	"github.com/sapliy/loyalty-platform/pkg/jsonutil"
)

// AdminAuth guards the admin surface. Requests pass with either a valid
// HMAC-signed bearer token or an API key whose hash matches the configured
// one. The tracking surface never goes through this.
func AdminAuth(jwtSecret, apiKeyHash, apiKeySecret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get("X-API-Key"); key != "" && apiKeyHash != "" {
				if apikey.ValidateKeyFormat(key, apikey.AdminPrefix) &&
					apikey.HashKey(key, apiKeySecret) == apiKeyHash {
					next.ServeHTTP(w, r)
					return
				}
			}

			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") && jwtSecret != "" {
				tokenStr := strings.TrimPrefix(auth, "Bearer ")
				token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(jwtSecret), nil
				})
				if err == nil && token.Valid {
					next.ServeHTTP(w, r)
					return
				}
			}

			jsonutil.WriteError(w, http.StatusUnauthorized, "authentication required")
		})
	}
}
