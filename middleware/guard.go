package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/credguard"
	"github.com/MrEthical07/credguard/policy"
)

type authResultContextKey struct{}

func AuthResultFromContext(ctx context.Context) (*credguard.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*credguard.AuthResult)
	return res, ok
}

// Guard rejects requests without a valid bearer access token. With reqs it
// also runs Engine.Authorize for the token's subject.
func Guard(engine *credguard.Engine, reqs ...policy.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			tok, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := withClient(r)
			res, err := engine.ValidateAccess(ctx, tok)
			if err != nil {
				writeError(w, err)
				return
			}
			if len(reqs) > 0 {
				if err := engine.Authorize(ctx, res, nil, reqs...); err != nil {
					writeError(w, err)
					return
				}
			}

			ctx = context.WithValue(ctx, authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireToken verifies the access token only.
func RequireToken(engine *credguard.Engine) func(http.Handler) http.Handler {
	return Guard(engine)
}

func RequireActiveAccount(engine *credguard.Engine) func(http.Handler) http.Handler {
	return Guard(engine, policy.AccountActive())
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	tok := strings.TrimSpace(value[len(bearer):])
	if tok == "" {
		return "", false
	}

	return tok, true
}

// withClient derives the engine context values from the connection. Proxy
// headers are ignored; deployments behind a proxy should rewrite RemoteAddr
// before the guard runs.
func withClient(r *http.Request) context.Context {
	ctx := r.Context()
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host != "" {
		ctx = credguard.WithClientIP(ctx, host)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = credguard.WithUserAgent(ctx, ua)
	}
	return ctx
}

func writeError(w http.ResponseWriter, err error) {
	var rl *credguard.RateLimitError
	switch {
	case errors.As(err, &rl):
		if secs := int(rl.RetryAfter.Seconds() + 0.999); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	case errors.Is(err, credguard.ErrBackendUnavailable), errors.Is(err, credguard.ErrEngineNotReady):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, policy.ErrScopeMissing),
		errors.Is(err, policy.ErrTwoFactorRequired),
		errors.Is(err, policy.ErrAccountInactive),
		errors.Is(err, credguard.ErrIPNotAllowed):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}
