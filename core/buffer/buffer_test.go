package buffer

import (
	"bytes"
	"testing"
)

func TestAppendConsume(t *testing.T) {
	b := New(16)

	n, err := b.Append([]byte("hello world"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if n != 11 || b.Len() != 11 {
		t.Errorf("Expected len 11, got %d", b.Len())
	}

	b.Consume(6)
	if b.Len() != 5 {
		t.Errorf("Expected len 5 after consume, got %d", b.Len())
	}
	if !bytes.Equal(b.Peek(5), []byte("world")) {
		t.Errorf("Expected compacted prefix 'world', got %q", b.Peek(5))
	}
}

func TestAppendGrowsPreservingPrefix(t *testing.T) {
	b := New(8)
	b.Append([]byte("abcdefgh"))

	if _, err := b.Append([]byte("ijklmnop")); err != nil {
		t.Fatalf("Append after growth failed: %v", err)
	}
	if !bytes.Equal(b.Bytes(), []byte("abcdefghijklmnop")) {
		t.Errorf("Prefix not preserved across growth: %q", b.Bytes())
	}
	if b.Size() < 16 {
		t.Errorf("Expected capacity >= 16, got %d", b.Size())
	}
}

func TestConservation(t *testing.T) {
	b := New(32)
	payload := []byte("0123456789abcdef")

	before := b.Len()
	b.Append(payload)
	if b.Len() != before+len(payload) {
		t.Errorf("Expected len %d, got %d", before+len(payload), b.Len())
	}
	if !bytes.Equal(b.Bytes()[before:], payload) {
		t.Error("Appended bytes do not match stored suffix")
	}

	b.Consume(4)
	if !bytes.Equal(b.Peek(4), []byte("4567")) {
		t.Errorf("Expected peek after consume to start at '4567', got %q", b.Peek(4))
	}
}

func TestConsumeBeyondLenPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic on consume beyond length")
		}
	}()
	b := New(8)
	b.Append([]byte("ab"))
	b.Consume(3)
}

func TestWaterMarks(t *testing.T) {
	b := New(8)
	b.SetCeiling(64)

	b.Append(make([]byte, 64))
	if !b.Full() {
		t.Error("Expected full flag at high-water mark")
	}

	// Draining to just below the mark must not clear the flag yet.
	b.Consume(16)
	if !b.Full() {
		t.Error("Full flag cleared above the low-water mark")
	}

	// Below half the ceiling it clears.
	b.Consume(20)
	if b.Full() {
		t.Errorf("Expected full flag cleared at len %d", b.Len())
	}
}

func TestGrowCeiling(t *testing.T) {
	b := New(8)
	b.SetCeiling(64)

	if err := b.GrowTo(16 * 64); err != nil {
		t.Errorf("Growth at hard limit should succeed: %v", err)
	}
	if err := b.GrowTo(16*64 + 1); err != ErrTooLarge {
		t.Errorf("Expected ErrTooLarge beyond hard limit, got %v", err)
	}
}

func TestWritableCommit(t *testing.T) {
	b := New(16)
	b.Append([]byte("abc"))

	w := b.Writable()
	if len(w) < 3 {
		t.Fatalf("Expected spare writable capacity, got %d", len(w))
	}
	copy(w, "def")
	b.Commit(3)

	if !bytes.Equal(b.Bytes(), []byte("abcdef")) {
		t.Errorf("Expected abcdef, got %q", b.Bytes())
	}
}

func TestDelete(t *testing.T) {
	b := New(16)
	b.Append([]byte("aaBBcc"))
	b.Delete(2, 2)
	if !bytes.Equal(b.Bytes(), []byte("aacc")) {
		t.Errorf("Expected aacc after delete, got %q", b.Bytes())
	}
}
