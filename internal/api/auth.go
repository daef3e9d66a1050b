package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-humidifier/internal/auth"
)

const ctxKeyClaims contextKey = "claims"

// accessTokenParam carries the token for WebSocket clients, which cannot
// set headers from a browser.
const accessTokenParam = "access_token"

// requirePermission admits requests whose token grants perm for this
// bridge's device. With no JWT secret configured every request passes.
func (s *Server) requirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.secCfg.JWT.Secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w, "bearer token is required")
				return
			}
			claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret)
			if err != nil {
				s.logger.Debug("token rejected", "error", err, "request_id", requestID(r))
				writeUnauthorized(w, "invalid or expired token")
				return
			}
			switch {
			case !claims.Role.Grants(perm):
				writeForbidden(w, "role "+string(claims.Role)+" lacks "+string(perm))
				return
			case !claims.AllowsDevice(s.deviceID):
				writeForbidden(w, "token is not valid for device "+s.deviceID)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims)))
		})
	}
}

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// access_token query parameter.
func bearerToken(r *http.Request) (string, bool) {
	const prefix = "bearer "
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
			return "", false
		}
		token := strings.TrimSpace(h[len(prefix):])
		return token, token != ""
	}
	token := r.URL.Query().Get(accessTokenParam)
	return token, token != ""
}

func claimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return c, ok
}
