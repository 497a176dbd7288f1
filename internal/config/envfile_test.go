package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnvSetsValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nexport AUTOMATIC_TEST_A=hello\nAUTOMATIC_TEST_B=\"quoted value\"\nbroken-line\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("AUTOMATIC_TEST_A", "")
	os.Unsetenv("AUTOMATIC_TEST_A")
	t.Setenv("AUTOMATIC_TEST_B", "")
	os.Unsetenv("AUTOMATIC_TEST_B")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("AUTOMATIC_TEST_A"); got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
	if got := os.Getenv("AUTOMATIC_TEST_B"); got != "quoted value" {
		t.Fatalf("expected quoted value, got %q", got)
	}
}

func TestLoadDotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("AUTOMATIC_TEST_C=file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("AUTOMATIC_TEST_C", "process")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("AUTOMATIC_TEST_C"); got != "process" {
		t.Fatalf("expected process env to win, got %q", got)
	}
}

func TestLoadDotEnvMissingFileIsFine(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("expected nil for missing file, got %v", err)
	}
}
