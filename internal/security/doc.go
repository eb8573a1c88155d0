// Package security derives the security posture report from configuration
// values. The root package converts it into the public SecurityReport.
package security
