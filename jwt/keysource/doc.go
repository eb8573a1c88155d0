// Package keysource loads signing keyrings from a YAML or JSON document on
// disk or in AWS Secrets Manager, and hot-reloads the on-disk form.
package keysource
