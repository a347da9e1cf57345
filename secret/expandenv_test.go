package secret

import (
	"errors"
	"strings"
	"testing"
)

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("QS_PROJECT", "abcd")
	t.Setenv("QS_EMPTY", "")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"braced", "https://${QS_PROJECT}.supabase.co", "https://abcd.supabase.co"},
		{"bare", "wss://$QS_PROJECT.supabase.co/realtime/v1", "wss://abcd.supabase.co/realtime/v1"},
		{"set but empty", "prefix-${QS_EMPTY}", "prefix-"},
		{"dollar escape", "price: $$10", "price: $10"},
		{"escape before var", "$$${QS_PROJECT}", "$abcd"},
		{"no variables", "querysync-cache", "querysync-cache"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnvStrict(tt.in)
			if err != nil {
				t.Fatalf("ExpandEnvStrict(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnvStrict(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandEnvStrict_MissingVarErrors(t *testing.T) {
	t.Setenv("QS_PRESENT", "ok")

	_, err := ExpandEnvStrict("url=${QS_PRESENT} key=${QS_MISSING_B} alt=${QS_MISSING_A} again=${QS_MISSING_B}")
	if !errors.Is(err, ErrMissingEnv) {
		t.Fatalf("ExpandEnvStrict() error = %v, want ErrMissingEnv", err)
	}
	if !strings.HasSuffix(err.Error(), ": QS_MISSING_A, QS_MISSING_B") {
		t.Errorf("error = %v, want each missing name once, sorted", err)
	}
}
