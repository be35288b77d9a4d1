package protocol

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func collectLines(t *testing.T, f *Framer) (lines []string, tooLong int) {
	t.Helper()
	for {
		line, err := f.Next()
		if errors.Is(err, ErrLineTooLong) {
			tooLong++
			continue
		}
		if errors.Is(err, io.EOF) {
			return lines, tooLong
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		lines = append(lines, line)
	}
}

func TestFramer_SplitsOnCarriageReturn(t *testing.T) {
	f := NewFramer(strings.NewReader("PWON\rMV355\r\nMUOFF\r\r"), 0)
	got, _ := collectLines(t, f)
	want := []string{"PWON", "MV355", "MUOFF"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines=%q, want %q", got, want)
	}
}

func TestFramer_PartialReads(t *testing.T) {
	// OneByteReader forces every line to be assembled across many reads.
	f := NewFramer(iotest.OneByteReader(strings.NewReader("SIBD\rMSSTEREO\rZ2ON\r")), 0)
	got, _ := collectLines(t, f)
	if len(got) != 3 || got[0] != "SIBD" || got[1] != "MSSTEREO" || got[2] != "Z2ON" {
		t.Fatalf("lines=%q", got)
	}
}

func TestFramer_DropsUnterminatedTail(t *testing.T) {
	f := NewFramer(strings.NewReader("PWON\rMV3"), 0)
	got, _ := collectLines(t, f)
	if len(got) != 1 || got[0] != "PWON" {
		t.Fatalf("lines=%q", got)
	}
}

func TestFramer_OversizedLineIsDroppedAndReadingContinues(t *testing.T) {
	long := strings.Repeat("X", 200)
	f := NewFramer(strings.NewReader("PWON\r"+long+"\rMUON\r"), 32)
	got, tooLong := collectLines(t, f)
	if tooLong != 1 {
		t.Fatalf("tooLong=%d, want 1", tooLong)
	}
	if len(got) != 2 || got[0] != "PWON" || got[1] != "MUON" {
		t.Fatalf("lines=%q", got)
	}
}

func TestFramer_Latin1Fallback(t *testing.T) {
	// 0xE9 on its own is invalid UTF-8 and is "é" in ISO-8859-1.
	f := NewFramer(strings.NewReader("NSE1\x01Caf\xe9\r"), 0)
	line, err := f.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if line != "NSE1\x01Café" {
		t.Fatalf("line=%q", line)
	}
}

func TestFramer_KeepsUTF8(t *testing.T) {
	f := NewFramer(strings.NewReader("NSE2\x01Björk\r"), 0)
	line, err := f.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev := Parse(line); ev.Payload != (TextPayload{Text: "Björk"}) {
		t.Fatalf("payload=%#v", ev.Payload)
	}
}
