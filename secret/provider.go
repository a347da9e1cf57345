package secret

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Provider resolves secrets by reference string.
//
// Implementations must be safe for concurrent use and must not log secret values.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
	Close() error
}

// EnvProvider resolves references as environment variable names.
type EnvProvider struct {
	// Prefix is prepended to every reference ("QUERYSYNC_").
	Prefix string
}

// Name returns "env".
func (EnvProvider) Name() string { return "env" }

// Resolve returns the variable Prefix+ref.
func (p EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	name := p.Prefix + ref
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, name)
	}
	return v, nil
}

// Close does nothing.
func (EnvProvider) Close() error { return nil }

// FileProvider resolves references as file names under Dir. Trailing line
// breaks are trimmed.
type FileProvider struct {
	// Dir is the secrets directory. References may not leave it.
	// Default: /run/secrets
	Dir string
}

// Name returns "file".
func (FileProvider) Name() string { return "file" }

// Resolve reads Dir/ref.
func (p FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	dir := p.Dir
	if dir == "" {
		dir = "/run/secrets"
	}
	if !filepath.IsLocal(ref) {
		return "", fmt.Errorf("%w: %q escapes the secrets directory", ErrInvalidRef, ref)
	}
	data, err := os.ReadFile(filepath.Join(dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: file %s", ErrNotFound, ref)
	}
	if err != nil {
		return "", fmt.Errorf("secret: read %s: %w", ref, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// Close does nothing.
func (FileProvider) Close() error { return nil }

var (
	_ Provider = EnvProvider{}
	_ Provider = FileProvider{}
)
