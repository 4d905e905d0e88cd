package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tgvault/tgvault/internal/config"
)

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work", "a", "test_1", "my-session", strings.Repeat("x", 64)}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "Main", "with space", "dots.dots", "../escape", "-flag", "_hidden", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	// No flag, no config: built-in default.
	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve with nothing = %q, want %q", got, DefaultSessionName)
	}

	// Config default wins over the built-in.
	if err := config.Save(ConfigPath(), &config.Config{DefaultSession: "work"}); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve with config = %q, want work", got)
	}

	// The flag wins over everything.
	if got := Resolve("adhoc"); got != "adhoc" {
		t.Errorf("Resolve with flag = %q, want adhoc", got)
	}
}

func TestPathsLayout(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := Dir("main")
	if !strings.HasPrefix(dir, filepath.Join(home, ".tgvault")) {
		t.Errorf("session dir %q outside the base dir", dir)
	}
	if got := ArchiveDBPath("main"); got != filepath.Join(dir, "archive.db") {
		t.Errorf("archive db path = %q", got)
	}
	if got := TelegramDBPath("main"); got != filepath.Join(dir, "session.db") {
		t.Errorf("session db path = %q", got)
	}
	if got := LockPath("main"); got != filepath.Join(dir, "LOCK") {
		t.Errorf("lock path = %q", got)
	}
}

func TestEnsureDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if err := EnsureDir("main"); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{Dir("main"), LogDir("main")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("stat %s: %v", d, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permissions = %o, want 0700", d, perm)
		}
	}
}
