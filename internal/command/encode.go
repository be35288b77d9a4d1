package command

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"marantzbridge/internal/protocol"
)

// Encoder validates a setter's raw value and renders it in the receiver's
// field format.
type Encoder func(raw string) (string, error)

func parseNumber(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not a number")
	}
	return v, nil
}

func checkRange(v, min, max float64) error {
	if v < min || v > max {
		return fmt.Errorf("out of range %g to %g", min, max)
	}
	return nil
}

// halfStep encodes a level on the 0..98 scale in 0.5 steps.
func halfStep(min, max float64) Encoder {
	return func(raw string) (string, error) {
		v, err := parseNumber(raw)
		if err != nil {
			return "", err
		}
		if err := checkRange(v, min, max); err != nil {
			return "", err
		}
		return protocol.EncodeHalfStep(v)
	}
}

// decibelHalfStep encodes a dB offset onto the 50-centred half-step scale.
func decibelHalfStep(minDB, maxDB float64) Encoder {
	return func(raw string) (string, error) {
		v, err := parseNumber(raw)
		if err != nil {
			return "", err
		}
		if err := checkRange(v, minDB, maxDB); err != nil {
			return "", err
		}
		return protocol.EncodeHalfStep(v + protocol.LevelReference)
	}
}

// tenths encodes a 0.1 step value as two digits ("0.5" -> "05").
func tenths(min, max float64) Encoder {
	return func(raw string) (string, error) {
		v, err := parseNumber(raw)
		if err != nil {
			return "", err
		}
		if err := checkRange(v, min, max); err != nil {
			return "", err
		}
		scaled := v * 10
		n := math.Round(scaled)
		if math.Abs(scaled-n) > 1e-6 {
			return "", errors.New("not a multiple of 0.1")
		}
		return fmt.Sprintf("%02d", int(n)), nil
	}
}

func parseWhole(raw string) (int, error) {
	v, err := parseNumber(raw)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, errors.New("not a whole number")
	}
	return int(v), nil
}

// integer encodes a whole number with a fixed format such as "%03d".
func integer(min, max int, format string) Encoder {
	return func(raw string) (string, error) {
		n, err := parseWhole(raw)
		if err != nil {
			return "", err
		}
		if n < min || n > max {
			return "", fmt.Errorf("out of range %d to %d", min, max)
		}
		return fmt.Sprintf(format, n), nil
	}
}

func oneOf(allowed ...int) Encoder {
	return func(raw string) (string, error) {
		n, err := parseWhole(raw)
		if err != nil {
			return "", err
		}
		if !slices.Contains(allowed, n) {
			return "", fmt.Errorf("must be one of %v", allowed)
		}
		return strconv.Itoa(n), nil
	}
}

// digits passes through a run of ASCII digits of bounded length.
func digits(minLen, maxLen int) Encoder {
	return func(raw string) (string, error) {
		s := strings.TrimSpace(raw)
		if len(s) < minLen || len(s) > maxLen {
			return "", fmt.Errorf("want %d to %d digits", minLen, maxLen)
		}
		for i := 0; i < len(s); i++ {
			if s[i] < '0' || s[i] > '9' {
				return "", errors.New("not numeric")
			}
		}
		return s, nil
	}
}
