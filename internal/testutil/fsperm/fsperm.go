// Package fsperm asserts POSIX permissions on persisted secret state in
// tests. Session files and RPC token files must stay owner-only.
package fsperm

import (
	"os"
	"runtime"
	"testing"
)

// AssertPrivateDirPerm fails the test unless dir exists and is accessible by
// its owner only.
func AssertPrivateDirPerm(t testing.TB, dir string) {
	t.Helper()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat %s: %v", dir, err)
	}
	if !info.IsDir() {
		t.Fatalf("%s is not a directory", dir)
	}
	if runtime.GOOS == "windows" {
		return
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Fatalf("dir %s mode = %04o, want 0700", dir, perm)
	}
}

// AssertPrivateFilePerm fails the test unless path is a regular file readable
// and writable by its owner only.
func AssertPrivateFilePerm(t testing.TB, path string) {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if info.IsDir() {
		t.Fatalf("%s is a directory, expected a file", path)
	}
	if runtime.GOOS == "windows" {
		return
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("file %s mode = %04o, want 0600", path, perm)
	}
}
