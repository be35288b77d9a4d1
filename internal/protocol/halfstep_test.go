package protocol

import (
	"errors"
	"testing"
)

func TestDecodeHalfStep(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0", 0},
		{"00", 0},
		{"05", 5},
		{"35", 35},
		{"355", 35.5},
		{"420", 42},
		{"005", 0.5},
		{"98", 98},
	}
	for _, tt := range tests {
		got, err := DecodeHalfStep(tt.in)
		if err != nil {
			t.Fatalf("DecodeHalfStep(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("DecodeHalfStep(%q)=%v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "1234", "4a", " 5", "-1"} {
		if _, err := DecodeHalfStep(bad); err == nil {
			t.Fatalf("DecodeHalfStep(%q) succeeded", bad)
		}
	}
}

func TestEncodeHalfStep(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "00"},
		{0.5, "005"},
		{7, "07"},
		{9.5, "095"},
		{35.5, "355"},
		{42, "42"},
		{98, "98"},
	}
	for _, tt := range tests {
		got, err := EncodeHalfStep(tt.in)
		if err != nil {
			t.Fatalf("EncodeHalfStep(%v): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("EncodeHalfStep(%v)=%q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := EncodeHalfStep(35.3); !errors.Is(err, ErrNotHalfStep) {
		t.Fatalf("EncodeHalfStep(35.3) err=%v, want ErrNotHalfStep", err)
	}
	if _, err := EncodeHalfStep(-1); err == nil {
		t.Fatalf("EncodeHalfStep(-1) succeeded")
	}
	if _, err := EncodeHalfStep(100); err == nil {
		t.Fatalf("EncodeHalfStep(100) succeeded")
	}
}

func TestHalfStepRoundTrip(t *testing.T) {
	for v := 0.0; v <= 98; v += 0.5 {
		s, err := EncodeHalfStep(v)
		if err != nil {
			t.Fatalf("EncodeHalfStep(%v): %v", v, err)
		}
		got, err := DecodeHalfStep(s)
		if err != nil {
			t.Fatalf("DecodeHalfStep(%q): %v", s, err)
		}
		if got != v {
			t.Fatalf("round trip %v -> %q -> %v", v, s, got)
		}
	}
}
