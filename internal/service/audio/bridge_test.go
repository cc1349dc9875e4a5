package audio

import (
	"bytes"
	"testing"
	"time"
)

type sink struct {
	chunks [][]byte
}

func (s *sink) Write(chunk []byte) {
	s.chunks = append(s.chunks, chunk)
}

func TestNewBridgeBuffer_Capacity(t *testing.T) {
	tests := []struct {
		name     string
		d        time.Duration
		rate     int
		expected int
	}{
		{"default 3s at 16kHz", 3 * time.Second, 16000, 96000},
		{"half second at 8kHz", 500 * time.Millisecond, 8000, 8000},
		{"disabled", 0, 16000, 0},
		{"no rate", time.Second, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBridgeBuffer(tt.d, tt.rate)
			if b.Capacity() != tt.expected {
				t.Errorf("expected capacity %d, got %d", tt.expected, b.Capacity())
			}
		})
	}
}

func TestBridgeBuffer_EvictsOldestOverBudget(t *testing.T) {
	// 1s at 10 Hz = 20 bytes.
	b := NewBridgeBuffer(time.Second, 10)

	evicted := 0
	for i := byte(0); i < 5; i++ {
		evicted += b.Append(bytes.Repeat([]byte{i}, 6))
	}
	if evicted != 2 {
		t.Errorf("expected 2 evictions, got %d", evicted)
	}

	if b.Bytes() > b.Capacity() {
		t.Errorf("expected at most %d bytes, got %d", b.Capacity(), b.Bytes())
	}
	if b.Len() != 3 {
		t.Fatalf("expected 3 chunks retained, got %d", b.Len())
	}

	snap := b.Snapshot()
	for i, want := range []byte{2, 3, 4} {
		if snap[i][0] != want {
			t.Errorf("chunk %d: expected %d, got %d", i, want, snap[i][0])
		}
	}
}

func TestBridgeBuffer_KeepsOversizedNewestChunk(t *testing.T) {
	b := NewBridgeBuffer(time.Second, 10)

	b.Append([]byte{1})
	b.Append(make([]byte, 100))

	if b.Len() != 1 {
		t.Fatalf("expected only the newest chunk, got %d chunks", b.Len())
	}
	if b.Bytes() != 100 {
		t.Errorf("expected 100 bytes, got %d", b.Bytes())
	}
}

func TestBridgeBuffer_CopiesOnAppend(t *testing.T) {
	b := NewBridgeBuffer(time.Second, 16000)

	buf := []byte{1, 2, 3}
	b.Append(buf)
	buf[0] = 9

	if b.Snapshot()[0][0] != 1 {
		t.Error("expected buffer to hold its own copy of the chunk")
	}
}

func TestBridgeBuffer_ReplayInOrder(t *testing.T) {
	b := NewBridgeBuffer(time.Second, 16000)
	b.Append([]byte("a"))
	b.Append([]byte("b"))
	b.Append([]byte("c"))

	s := &sink{}
	if n := b.Replay(s); n != 3 {
		t.Errorf("expected 3 replayed chunks, got %d", n)
	}

	var got string
	for _, c := range s.chunks {
		got += string(c)
	}
	if got != "abc" {
		t.Errorf("expected replay order 'abc', got %q", got)
	}
	if b.Len() != 3 {
		t.Error("expected replay to leave the buffer intact")
	}
}

func TestBridgeBuffer_DisabledAndEmpty(t *testing.T) {
	b := NewBridgeBuffer(0, 16000)
	b.Append([]byte{1, 2})
	b.Append(nil)

	if b.Len() != 0 {
		t.Errorf("expected disabled buffer to stay empty, got %d", b.Len())
	}

	s := &sink{}
	if n := b.Replay(s); n != 0 || len(s.chunks) != 0 {
		t.Error("expected nothing replayed")
	}
}

func TestBridgeBuffer_Reset(t *testing.T) {
	b := NewBridgeBuffer(time.Second, 16000)
	b.Append([]byte{1})
	b.Reset()

	if b.Len() != 0 || b.Bytes() != 0 {
		t.Errorf("expected empty buffer after reset, got %d chunks / %d bytes", b.Len(), b.Bytes())
	}
}
