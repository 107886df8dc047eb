package domain

import (
	"strings"
	"testing"
)

func TestNormalizeDomainKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"already normalized", "backend", "backend"},
		{"uppercase lowered", "Backend", "backend"},
		{"trimmed", "  security  ", "security"},
		{"hyphen and underscore kept", "api-design_v2", "api-design_v2"},
		{"spaces replaced", "api design", "api_design"},
		{"punctuation replaced", "infra/ops!", "infra_ops_"},
		{"digits kept", "team42", "team42"},
		{"unicode replaced", "данные", "______"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := NormalizeDomainKey(tt.input); got != tt.want {
				t.Errorf("NormalizeDomainKey(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidDomainKey(t *testing.T) {
	t.Parallel()

	if ValidDomainKey("") {
		t.Error("empty key should be invalid")
	}
	if !ValidDomainKey("backend") {
		t.Error("short key should be valid")
	}
	if !ValidDomainKey(strings.Repeat("a", 50)) {
		t.Error("50-char key should be valid")
	}
	if ValidDomainKey(strings.Repeat("a", 51)) {
		t.Error("51-char key should be invalid")
	}
}
