package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// LevelReference is the raw value that corresponds to 0 dB on the
// receiver's 50-centred level fields (channel levels, dialog and subwoofer
// level).
const LevelReference = 50.0

// ErrNotHalfStep is returned when a value cannot be expressed in 0.5 steps.
var ErrNotHalfStep = errors.New("value is not a multiple of 0.5")

// DecodeHalfStep decodes a half-step numeric field. The receiver sends whole
// values with one or two digits ("35", "05") and half values with three
// ("355" = 35.5). A three digit field is always read as tenths.
func DecodeHalfStep(digits string) (float64, error) {
	if len(digits) == 0 || len(digits) > 3 {
		return 0, fmt.Errorf("half-step field %q: want 1 to 3 digits", digits)
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, fmt.Errorf("half-step field %q: not numeric", digits)
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("half-step field %q: %w", digits, err)
	}
	if len(digits) == 3 {
		return float64(n) / 10, nil
	}
	return float64(n), nil
}

// EncodeHalfStep is the inverse of DecodeHalfStep: whole values use two
// digits and half values use three ("355").
func EncodeHalfStep(v float64) (string, error) {
	if v < 0 || v >= 100 || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("half-step value %v out of range", v)
	}
	doubled := v * 2
	if doubled != math.Trunc(doubled) {
		return "", fmt.Errorf("half-step value %v: %w", v, ErrNotHalfStep)
	}
	if int(doubled)%2 == 1 {
		return fmt.Sprintf("%03d", int(v*10)), nil
	}
	return fmt.Sprintf("%02d", int(v)), nil
}

// DecibelFromLevel converts a decoded 50-centred level to dB.
func DecibelFromLevel(level float64) float64 {
	return level - LevelReference
}
