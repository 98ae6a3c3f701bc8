package pairkey

import "testing"

func TestNormalize_OrderIndependent(t *testing.T) {
	cases := []struct{ a, b string }{
		{"alice", "bob"},
		{"bob", "alice"},
		{"7d0f9a10", "0a1b2c3d"},
		{"same", "same"},
	}
	for _, tc := range cases {
		if Normalize(tc.a, tc.b) != Normalize(tc.b, tc.a) {
			t.Errorf("Normalize(%q,%q) != Normalize(%q,%q)", tc.a, tc.b, tc.b, tc.a)
		}
	}
}

func TestNormalize_Ordering(t *testing.T) {
	k := Normalize("bob", "alice")
	if k.Low() != "alice" || k.High() != "bob" {
		t.Fatalf("low=%q high=%q", k.Low(), k.High())
	}
	if string(k) != "alice:bob" {
		t.Fatalf("encoded key = %q", string(k))
	}
}

func TestKey_Other(t *testing.T) {
	k := Normalize("alice", "bob")
	if got := k.Other("alice"); got != "bob" {
		t.Fatalf("Other(alice) = %q", got)
	}
	if got := k.Other("bob"); got != "alice" {
		t.Fatalf("Other(bob) = %q", got)
	}
	if got := k.Other("mallory"); got != "" {
		t.Fatalf("Other(mallory) = %q, want empty", got)
	}
}

func TestKey_Contains(t *testing.T) {
	k := Normalize("alice", "bob")
	if !k.Contains("alice") || !k.Contains("bob") {
		t.Fatalf("expected both members contained")
	}
	if k.Contains("mallory") {
		t.Fatalf("unexpected member")
	}
}
