// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

// Package auth implements Keystride accounts and stateless sessions.
//
// # Components
//
//   - BcryptHasher - salted one-way password digests
//   - TokenService - issues and verifies signed, time-limited JWTs
//   - Service - registration, login and profile operations over a UserRepository
//   - Guard - turns an Authorization header into an authenticated user id
//
// Errors returned by these components wrap the sentinels declared in
// errors.go, so callers classify failures with errors.Is.
package auth
