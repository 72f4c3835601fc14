package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestPromptConfirmer(t *testing.T) {
	cases := map[string]bool{
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"\n":    false,
		"":      false,
	}
	for input, want := range cases {
		var out bytes.Buffer
		confirm := promptConfirmer(strings.NewReader(input), &out)
		got, err := confirm.ConfirmDerivedURL(context.Background(), "redis://demo-default-rtdb:6379")
		if err != nil {
			t.Fatalf("input %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("input %q: got %v want %v", input, got, want)
		}
		if !strings.Contains(out.String(), "redis://demo-default-rtdb:6379") {
			t.Fatalf("prompt should show the derived url, got %q", out.String())
		}
	}
}
