package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"pairchat/pkg/logger"
	"pairchat/pkg/utils"
)

type ctxUserKey struct{}

func validUserID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	// participant ids end up inside composite store keys
	return !strings.ContainsAny(id, ": \t\n")
}

// RequireUser resolves the acting user for a request and injects it into
// the context. Backend keys assert identity with a bare X-User-ID header.
// Frontend keys must also present X-User-Signature, an HMAC-SHA256 of the
// user id under one of the configured frontend keys, so a browser cannot
// impersonate another user by editing a header.
func RequireUser(cfg SecConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if uid == "" {
				uid = strings.TrimSpace(r.URL.Query().Get("user"))
			}
			if !validUserID(uid) {
				logger.Warn("missing_user_identity", "path", r.URL.Path, "remote", r.RemoteAddr)
				utils.JSONError(w, http.StatusUnauthorized, "user identity required")
				return
			}

			if r.Header.Get("X-Role-Name") == "frontend" {
				sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))
				if sig == "" {
					sig = strings.TrimSpace(r.URL.Query().Get("sig"))
				}
				if sig == "" {
					logger.Warn("missing_signature_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
					utils.JSONError(w, http.StatusUnauthorized, "missing signature headers")
					return
				}
				if !verifySignature(uid, sig, cfg.FrontendKeys) {
					logger.Warn("invalid_signature", "user", uid)
					utils.JSONError(w, http.StatusUnauthorized, "invalid signature")
					return
				}
				logger.Debug("signature_verified", "user", uid)
			}

			ctx := context.WithValue(r.Context(), ctxUserKey{}, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifySignature(uid, sig string, keys map[string]struct{}) bool {
	for k := range keys {
		mac := hmac.New(sha256.New, []byte(k))
		mac.Write([]byte(uid))
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

// UserFromContext returns the verified user id or empty string.
func UserFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxUserKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
