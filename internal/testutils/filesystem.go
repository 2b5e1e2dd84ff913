package testutils

import (
	"os"
	"testing"
)

// Dir is a wrapper for os.MkdirTemp that
// fails the test on errors.
func Dir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "mailstash-tests-")
	if err != nil {
		t.Fatalf("can't create test dir: %v", err)
	}
	return dir
}
