// Package util provides small helpers shared across the token engine:
// truncating identifiers for logs and classifying redirect hosts.
package util
