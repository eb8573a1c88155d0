// Package revocation holds the two expiring id sets consulted during access
// token validation: the blacklist of revoked jti values and the short replay
// window of recently seen ones.
package revocation
