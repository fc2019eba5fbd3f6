package initdata

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnvPrefersEnvVar(t *testing.T) {
	t.Setenv(EnvVar, "  query_id=1&user=u  ")
	p := FromEnv("")
	if got := p.Credential(); got != "query_id=1&user=u" {
		t.Fatalf("expected trimmed env value, got %q", got)
	}
}

func TestFromEnvFallsBackToFile(t *testing.T) {
	t.Setenv(EnvVar, "")
	path := filepath.Join(t.TempDir(), "initdata")
	if err := os.WriteFile(path, []byte("query_id=2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p := FromEnv(path)
	if got := p.Credential(); got != "query_id=2" {
		t.Fatalf("expected file value, got %q", got)
	}
}

func TestFromEnvAbsentIsEmptyNotError(t *testing.T) {
	t.Setenv(EnvVar, "")
	p := FromEnv(filepath.Join(t.TempDir(), "missing"))
	if got := p.Credential(); got != "" {
		t.Fatalf("expected empty credential, got %q", got)
	}
}
