package config

import (
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out of range port")
	}
	t.Setenv("TEST_PORT", "")
	p, err := Port("TEST_PORT", "8080")
	if err != nil || p != "8080" {
		t.Fatalf("expected fallback 8080, got %q (%v)", p, err)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "90")
	d, err := Duration("TEST_DURATION", time.Second)
	if err != nil || d != 90*time.Second {
		t.Fatalf("expected 90s, got %s (%v)", d, err)
	}
	t.Setenv("TEST_DURATION", "2m")
	d, err = Duration("TEST_DURATION", time.Second)
	if err != nil || d != 2*time.Minute {
		t.Fatalf("expected 2m, got %s (%v)", d, err)
	}
	t.Setenv("TEST_DURATION", "soon")
	if _, err := Duration("TEST_DURATION", time.Second); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	b, err := Bool("TEST_BOOL", false)
	if err != nil || !b {
		t.Fatalf("expected true, got %v (%v)", b, err)
	}
	t.Setenv("TEST_LIST", " a, ,b ")
	got := List("TEST_LIST", "")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected list %v", got)
	}
}
