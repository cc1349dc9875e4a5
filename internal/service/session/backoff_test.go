package session

import (
	"testing"
	"time"
)

func TestBackoff_DoublesUpToMax(t *testing.T) {
	b := NewBackoff(500*time.Millisecond, 10*time.Second, 0)

	expected := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, want := range expected {
		got, ok := b.Next()
		if !ok {
			t.Fatalf("attempt %d: expected a delay", i)
		}
		if got != want {
			t.Errorf("attempt %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestBackoff_ExhaustsAttempts(t *testing.T) {
	b := NewBackoff(time.Millisecond, time.Second, 2)

	for i := 0; i < 2; i++ {
		if _, ok := b.Next(); !ok {
			t.Fatalf("attempt %d: expected a delay", i)
		}
	}
	if _, ok := b.Next(); ok {
		t.Error("expected attempts to be exhausted")
	}
	if b.Attempts() != 2 {
		t.Errorf("expected 2 attempts, got %d", b.Attempts())
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 1)
	b.Next()
	b.Reset()

	d, ok := b.Next()
	if !ok || d != 100*time.Millisecond {
		t.Errorf("expected fresh schedule after reset, got %v (ok=%v)", d, ok)
	}
}

func TestNewBackoff_Defaults(t *testing.T) {
	b := NewBackoff(0, 0, 0)

	d, _ := b.Next()
	if d != 500*time.Millisecond {
		t.Errorf("expected default initial delay 500ms, got %v", d)
	}
	d, _ = b.Next()
	if d != 500*time.Millisecond {
		t.Errorf("expected max clamped to initial, got %v", d)
	}
}
