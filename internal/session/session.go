// Package session authenticates GreenLedger actors and administrators.
//
// It provides:
//   - KeyManager    creates/loads the RSA signing key
//   - Issuer        issues and verifies RS256 session tokens
//   - Admin         bcrypt-checked administrator credentials
//   - RequireActor  Gin middleware enforcing an actor or admin token
//   - RequireAdmin  Gin middleware enforcing an admin token
package session
