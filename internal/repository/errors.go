// Package repository contains data access logic separated from HTTP
// handlers.  Sentinel errors defined here let handlers map failure
// scenarios to HTTP responses without inspecting driver errors.
package repository

import "errors"

// ErrNotFound is returned when a row does not exist or is not visible to
// the caller.  Ownership-scoped queries deliberately collapse "absent" and
// "owned by someone else" into this one error so a non-owner can never
// learn that a row exists.
var ErrNotFound = errors.New("not found")

// ErrLoginExists is returned when creating or renaming a user collides
// with an existing login.  Handlers translate it into HTTP 409.
var ErrLoginExists = errors.New("login already exists")
