package cmd

import (
	"strings"
	"testing"
)

func TestRootHasSubcommands(t *testing.T) {
	want := []string{"serve", "index", "ask", "createuser", "version"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("root command is missing %q", name)
		}
	}
}

func TestGeneratePassword(t *testing.T) {
	const alphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%^&*"

	seen := make(map[string]bool)
	for range 10 {
		pw, err := generatePassword(generatedPasswordLength)
		if err != nil {
			t.Fatalf("generatePassword: %v", err)
		}
		if len(pw) != generatedPasswordLength {
			t.Errorf("password length = %d", len(pw))
		}
		for _, r := range pw {
			if !strings.ContainsRune(alphabet, r) {
				t.Errorf("password contains %q outside the alphabet", r)
			}
		}
		seen[pw] = true
	}
	if len(seen) < 2 {
		t.Error("generated passwords are not random")
	}
}
