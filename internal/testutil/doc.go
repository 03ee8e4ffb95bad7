// Package testutil provides testing utilities for the token engine: a
// controllable clock, PKCE fixtures and HTTP request builders.
package testutil
