package main

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func wavHeader(format, channels uint16, rate uint32, bits uint16) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	copy(h[8:12], "WAVE")
	binary.LittleEndian.PutUint16(h[20:22], format)
	binary.LittleEndian.PutUint16(h[22:24], channels)
	binary.LittleEndian.PutUint32(h[24:28], rate)
	binary.LittleEndian.PutUint16(h[34:36], bits)
	return h
}

func TestReadWAVHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		rate    int
		wantErr bool
	}{
		{"16kHz mono", wavHeader(1, 1, 16000, 16), 16000, false},
		{"8kHz mono accepted", wavHeader(1, 1, 8000, 16), 8000, false},
		{"not pcm", wavHeader(3, 1, 16000, 32), 0, true},
		{"stereo", wavHeader(1, 2, 16000, 16), 0, true},
		{"not wav", make([]byte, wavHeaderSize), 0, true},
		{"short", []byte("RIFF"), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := readWAVHeader(bytes.NewReader(tt.header))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rate != tt.rate {
				t.Errorf("expected rate %d, got %d", tt.rate, rate)
			}
		})
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		base     string
		expected string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws?sessionId=abc"},
		{"https://speech.example.com/", "wss://speech.example.com/ws?sessionId=abc"},
	}

	for _, tt := range tests {
		got, err := websocketURL(tt.base, "abc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, got)
		}
	}
}
