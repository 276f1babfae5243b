package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Decimal (SI) multipliers.
const (
	kilobyte = 1000
	megabyte = 1000 * kilobyte
	gigabyte = 1000 * megabyte
	terabyte = 1000 * gigabyte
)

// Binary (IEC) multipliers.
const (
	kibibyte = 1024
	mebibyte = 1024 * kibibyte
	gibibyte = 1024 * mebibyte
	tebibyte = 1024 * gibibyte
)

// Chunk size bounds. Storage requests carry whole cipher blocks, so the size
// must be block aligned.
const (
	chunkAlignBytes = 16
	minChunkBytes   = 64 * kibibyte
	maxChunkBytes   = 64 * mebibyte
)

// sizeUnits is checked in order, so longer suffixes come before the ones
// they end with ("KIB" before "B").
var sizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"TIB", tebibyte},
	{"GIB", gibibyte},
	{"MIB", mebibyte},
	{"KIB", kibibyte},
	{"TB", terabyte},
	{"GB", gigabyte},
	{"MB", megabyte},
	{"KB", kilobyte},
	{"B", 1},
}

var (
	errNegativeSize = errors.New("must be non-negative")
	errSizeOverflow = errors.New("too large")
)

// ParseSize converts a size such as "1MiB", "1.5MB" or "65536" to bytes.
// Suffixes are case-insensitive. Empty and "0" are zero; a bare number is
// bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	num, mult := s, int64(1)

	upper := strings.ToUpper(s)
	for _, u := range sizeUnits {
		if strings.HasSuffix(upper, u.suffix) {
			num, mult = strings.TrimSpace(s[:len(s)-len(u.suffix)]), u.multiplier
			break
		}
	}

	n, err := sizeValue(num, mult)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	return n, nil
}

// sizeValue scales num by mult. Integers stay exact; fractions such as
// "1.5" go through float64.
func sizeValue(num string, mult int64) (int64, error) {
	if i, err := strconv.ParseInt(num, 10, 64); err == nil {
		if i < 0 {
			return 0, errNegativeSize
		}

		if i > math.MaxInt64/mult {
			return 0, errSizeOverflow
		}

		return i * mult, nil
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}

	switch {
	case f < 0:
		return 0, errNegativeSize
	case f*float64(mult) >= math.MaxInt64:
		return 0, errSizeOverflow
	}

	return int64(f * float64(mult)), nil
}

// ParseRate parses a throughput such as "5MB/s" or "512KiB". The "/s"
// suffix is optional; the result is bytes per second and zero means
// unlimited.
func ParseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)

	if strings.HasSuffix(strings.ToLower(s), "/s") {
		s = s[:len(s)-2]
	}

	return ParseSize(s)
}

// ParseChunkSize parses the largest storage request size. It must lie in
// [64KiB, 64MiB] and be a multiple of the 16-byte cipher block.
func ParseChunkSize(s string) (int64, error) {
	n, err := ParseSize(s)
	if err != nil {
		return 0, err
	}

	if n < minChunkBytes || n > maxChunkBytes {
		return 0, fmt.Errorf("must be between 64KiB and 64MiB, got %s", strings.TrimSpace(s))
	}

	if n%chunkAlignBytes != 0 {
		return 0, fmt.Errorf("must be a multiple of %d bytes, got %s (%d bytes)",
			chunkAlignBytes, strings.TrimSpace(s), n)
	}

	return n, nil
}
