package version

import "testing"

func TestShortCommit(t *testing.T) {
	t.Parallel()

	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("short commit: got %q want %q", got, "0123456789ab")
	}
	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("short commit: got %q want %q", got, "abc")
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	info := Resolve()
	if info.Version == "" {
		t.Fatalf("resolved version is empty")
	}
	if info.GoVersion == "" {
		t.Fatalf("resolved go version is empty")
	}
}
