// Package auth verifies bearer tokens on the HTTP surface and enforces the
// read, control and telemetry scopes.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public
// key). The /api/v1/health endpoint is always open.
package auth
