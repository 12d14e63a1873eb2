package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("brd")
	if !strings.HasPrefix(id, "brd_") {
		t.Fatalf("NewID() = %q, want brd_ prefix", id)
	}
	if NewID("brd") == id {
		t.Fatal("expected distinct ids")
	}
}

func TestNewIDWithoutPrefix(t *testing.T) {
	if id := NewID(""); strings.Contains(id, "_") {
		t.Fatalf("NewID(\"\") = %q, want bare uuid", id)
	}
}
