// Package testutil holds helpers and fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"
)

// TempDir wraps t.TempDir for consistency and future shared setup.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// DBPath returns a database file path inside a fresh temp dir. The file
// itself is created by db.Open.
func DBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(TempDir(t), name)
}
