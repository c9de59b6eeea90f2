// Package httputil provides shared HTTP response/request utilities for the
// admin API handlers.
//
// Handlers use these helpers instead of writing raw http.ResponseWriter
// calls so every endpoint returns the same JSON envelope for errors.
package httputil
