package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvProvider_Resolve(t *testing.T) {
	t.Setenv("QS_SERVICE_KEY", "svc")
	p := EnvProvider{Prefix: "QS_"}

	got, err := p.Resolve(context.Background(), "SERVICE_KEY")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "svc" {
		t.Errorf("Resolve() = %q, want %q", got, "svc")
	}
	if _, err := p.Resolve(context.Background(), "UNSET_FOR_TEST"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(unset) error = %v, want ErrNotFound", err)
	}
}

func TestFileProvider_Resolve(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "jwt_secret"), []byte("s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p := FileProvider{Dir: dir}

	got, err := p.Resolve(context.Background(), "jwt_secret")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "s3cret" {
		t.Errorf("Resolve() = %q, want trailing newline trimmed", got)
	}

	tests := []struct {
		ref  string
		want error
	}{
		{"missing", ErrNotFound},
		{"../etc/passwd", ErrInvalidRef},
		{"/etc/passwd", ErrInvalidRef},
	}
	for _, tt := range tests {
		if _, err := p.Resolve(context.Background(), tt.ref); !errors.Is(err, tt.want) {
			t.Errorf("Resolve(%q) error = %v, want %v", tt.ref, err, tt.want)
		}
	}
}
