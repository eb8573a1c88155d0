package credguard

import (
	"context"

	"github.com/MrEthical07/credguard/token"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type bindingFingerprintContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for lockout records, API key allow-lists, per-IP rate limiting, audit
// events and token binding.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. Together with
// the client IP it forms the default binding fingerprint.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithBindingFingerprint overrides the derived binding fingerprint, for
// hosts that bind tokens to something other than IP and User-Agent (a TLS
// channel id, a device key).
func WithBindingFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, bindingFingerprintContextKey{}, fingerprint)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

// fingerprintFromContext returns the explicit fingerprint if one was set,
// otherwise SHA-256 over client IP and User-Agent.
func fingerprintFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if fp, _ := ctx.Value(bindingFingerprintContextKey{}).(string); fp != "" {
		return fp
	}
	return token.Fingerprint(clientIPFromContext(ctx), userAgentFromContext(ctx))
}
