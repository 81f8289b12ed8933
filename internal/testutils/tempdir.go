package testutils

import (
	"os"
	"strings"
	"testing"
)

// TempTestDir returns a temp dir named after the test and prefix. The dir is
// kept for inspection when the test fails.
func TempTestDir(t testing.TB, prefix string) string {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dir, err := os.MkdirTemp("", "ghostrec-"+name+"-"+prefix+"-")
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("Test data kept in %s", dir)
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			t.Logf("Unable to remove %s: %v", dir, err)
		}
	})
	return dir
}
