package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Size is a byte count that accepts a bare integer or a string such as
// "25mb" in YAML.
type Size int64

func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("size must be a scalar")
	}
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("size cannot be negative: %d", n)
		}
		*s = Size(n)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	n, err := ParseSize(raw)
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

func (s Size) Bytes() int64 {
	return int64(s)
}

// ParseSize parses a human-readable size string to bytes.
// Supports formats: "100", "500kb", "1mb", "1gb" (case insensitive).
// Units are decimal: kb=1000, mb=1000000, gb=1000000000.
func ParseSize(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	multiplier := int64(1)
	numStr := s

	switch {
	case strings.HasSuffix(s, "kb"):
		multiplier = 1_000
		numStr = s[:len(s)-2]
	case strings.HasSuffix(s, "mb"):
		multiplier = 1_000_000
		numStr = s[:len(s)-2]
	case strings.HasSuffix(s, "gb"):
		multiplier = 1_000_000_000
		numStr = s[:len(s)-2]
	case strings.HasSuffix(s, "b"):
		numStr = s[:len(s)-1]
	}

	numStr = strings.TrimSpace(numStr)
	if numStr == "" {
		return 0, fmt.Errorf("invalid size value: %q", s)
	}

	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid size value: %q", s)
	}

	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative: %q", s)
	}

	return int64(value * float64(multiplier)), nil
}
