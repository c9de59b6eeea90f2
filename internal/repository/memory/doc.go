// Package memory provides in-process implementations of every repository
// the engine needs. It backs the optctl dry-run mode and the engine tests.
// All methods are safe for concurrent use and return copies.
package memory
