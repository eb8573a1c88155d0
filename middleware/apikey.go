package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/credguard"
)

// APIKeyHeader carries the key when the Authorization header is not used.
const APIKeyHeader = "X-API-Key"

type apiKeyContextKey struct{}

func APIKeyFromContext(ctx context.Context) (*credguard.APIKeyAuth, bool) {
	auth, ok := ctx.Value(apiKeyContextKey{}).(*credguard.APIKeyAuth)
	return auth, ok
}

// RequireAPIKey authenticates the key from X-API-Key or an "ApiKey"
// Authorization scheme and requires every scope in scopes. The remaining
// rate limit quota is reported in X-RateLimit-Remaining.
func RequireAPIKey(engine *credguard.Engine, scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			presented, ok := apiKeyFromRequest(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := withClient(r)
			auth, err := engine.AuthenticateAPIKey(ctx, presented, scopes...)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(auth.Remaining))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(context.WithValue(ctx, apiKeyContextKey{}, auth)))
			engine.RecordAPIKeyUsage(context.WithoutCancel(ctx), auth.KeyID, r.URL.Path, rec.status, time.Since(start))
		})
	}
}

func apiKeyFromRequest(r *http.Request) (string, bool) {
	if v := strings.TrimSpace(r.Header.Get(APIKeyHeader)); v != "" {
		return v, true
	}
	const scheme = "ApiKey "
	v := r.Header.Get("Authorization")
	if len(v) > len(scheme) && strings.EqualFold(v[:len(scheme)], scheme) {
		if key := strings.TrimSpace(v[len(scheme):]); key != "" {
			return key, true
		}
	}
	return "", false
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
