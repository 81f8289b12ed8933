package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	old := PreRelease
	t.Cleanup(func() { PreRelease = old })

	PreRelease = ""
	if s := String(); !strings.HasPrefix(s, "0.1.0") || strings.Contains(s, "-pre") {
		t.Fatalf("unexpected release version %q", s)
	}

	PreRelease = "rc1"
	if s := String(); !strings.HasPrefix(s, "0.1.0-rc1") {
		t.Fatalf("unexpected pre-release version %q", s)
	}
}
