package main

import (
	"strings"
	"testing"
)

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"abc":          "***",
		"sk-123456789": "…6789",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Fatalf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCredentialsAddAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"credentials", "add", "--label", "team", "--secret", "sk-abcdef1234"}, env.configPath)
	if err != nil {
		t.Fatalf("credentials add: %v", err)
	}
	requireContains(t, out, "Added credential")

	out, _, err = runCLI(t, []string{"credentials", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("credentials list: %v", err)
	}
	requireContains(t, out, "team")
	requireContains(t, out, "1234")
	if strings.Contains(out, "sk-abcdef1234") {
		t.Fatalf("list output leaked the secret: %q", out)
	}

	if _, _, err := runCLI(t, []string{"credentials", "add"}, env.configPath); err == nil {
		t.Fatal("expected add without secret to fail")
	}
}
