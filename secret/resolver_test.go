package secret

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	name    string
	values  map[string]string
	resolve func(ref string) (string, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Resolve(_ context.Context, ref string) (string, error) {
	if s.resolve != nil {
		return s.resolve(ref)
	}
	if s.values == nil {
		return "", nil
	}
	return s.values[ref], nil
}

func (s *stubProvider) Close() error { return nil }

func TestParseSecretRef(t *testing.T) {
	provider, ref, ok := ParseSecretRef("secretref:stub:alpha")
	if !ok {
		t.Fatalf("expected secretref to parse")
	}
	if provider != "stub" || ref != "alpha" {
		t.Fatalf("unexpected values: %q %q", provider, ref)
	}

	_, _, ok = ParseSecretRef("not-a-secretref")
	if ok {
		t.Fatalf("expected non-secretref to fail")
	}
}

func TestResolver_ResolvesFullSecretRef(t *testing.T) {
	r := NewResolver(true, &stubProvider{name: "stub", values: map[string]string{"alpha": "one"}})

	got, err := r.ResolveValue(context.Background(), "secretref:stub:alpha")
	if err != nil {
		t.Fatalf("ResolveValue() error = %v", err)
	}
	if got != "one" {
		t.Fatalf("ResolveValue() = %q, want %q", got, "one")
	}
}

func TestResolver_ResolvesInlineSecretRef(t *testing.T) {
	r := NewResolver(true, &stubProvider{name: "stub", values: map[string]string{"beta": "two"}})

	got, err := r.ResolveValue(context.Background(), "Bearer secretref:stub:beta")
	if err != nil {
		t.Fatalf("ResolveValue() error = %v", err)
	}
	if got != "Bearer two" {
		t.Fatalf("ResolveValue() = %q, want %q", got, "Bearer two")
	}
}

func TestResolver_StrictEmptyProviderValueErrors(t *testing.T) {
	r := NewResolver(true, &stubProvider{name: "stub", values: map[string]string{"empty": ""}})

	_, err := r.ResolveValue(context.Background(), "secretref:stub:empty")
	if !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("ResolveValue() error = %v, want ErrEmptySecret", err)
	}

	lenient := NewResolver(false, &stubProvider{name: "stub", values: map[string]string{"empty": ""}})
	if got, err := lenient.ResolveValue(context.Background(), "secretref:stub:empty"); err != nil || got != "" {
		t.Fatalf("lenient ResolveValue() = %q, %v", got, err)
	}
}

func TestResolver_UnknownProvider(t *testing.T) {
	r := NewResolver(true)
	if _, err := r.ResolveValue(context.Background(), "secretref:vault:x"); !errors.Is(err, ErrProviderNotRegistered) {
		t.Fatalf("ResolveValue() error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestResolver_EnvThenSecretRef(t *testing.T) {
	t.Setenv("QS_REF_NAME", "alpha")
	r := NewResolver(true, &stubProvider{name: "stub", values: map[string]string{"alpha": "one"}})

	got, err := r.ResolveValue(context.Background(), "secretref:stub:${QS_REF_NAME}")
	if err != nil {
		t.Fatalf("ResolveValue() error = %v", err)
	}
	if got != "one" {
		t.Fatalf("ResolveValue() = %q, want %q", got, "one")
	}

	var nilResolver *Resolver
	if got, err := nilResolver.ResolveValue(context.Background(), "${QS_REF_NAME}"); err != nil || got != "alpha" {
		t.Fatalf("nil ResolveValue() = %q, %v", got, err)
	}
}

func TestNewResolverFromRegistry(t *testing.T) {
	t.Setenv("QS_ANON_KEY", "anon")
	r, err := NewResolverFromRegistry(nil, map[string]map[string]any{
		"env": {"prefix": "QS_"},
	})
	if err != nil {
		t.Fatalf("NewResolverFromRegistry() error = %v", err)
	}
	defer r.Close()

	got, err := r.ResolveValue(context.Background(), "secretref:env:ANON_KEY")
	if err != nil || got != "anon" {
		t.Fatalf("ResolveValue() = %q, %v", got, err)
	}

	if _, err := NewResolverFromRegistry(nil, map[string]map[string]any{"vault": nil}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Fatalf("NewResolverFromRegistry(vault) error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestResolver_ProviderResolveErrorPropagates(t *testing.T) {
	boom := errors.New("explode")
	r := NewResolver(true, &stubProvider{name: "stub", resolve: func(ref string) (string, error) {
		if ref == "boom" {
			return "", boom
		}
		return "ok", nil
	}})

	_, err := r.ResolveValue(context.Background(), "secretref:stub:boom")
	if !errors.Is(err, boom) {
		t.Fatalf("ResolveValue() error = %v, want %v", err, boom)
	}
}
