package gdelt

// This code adapted from https://github.com/cloudfoundry/bytefmt (Apache V2)

import (
	"fmt"
	"strings"
)

const (
	bbyte    = 1.0
	kilobyte = 1024 * bbyte
	megabyte = 1024 * kilobyte
	gigabyte = 1024 * megabyte
)

// Bytes is a byte count with a readable String, used when reporting artifact
// and download sizes.
type Bytes uint64

// String returns forms like 10M or 12.5K. The largest unit which keeps the
// value at or above 1 is chosen; artifacts are never terabytes so G is the
// largest unit.
func (b Bytes) String() string {
	unit := ""
	value := float64(b)

	switch {
	case b >= gigabyte:
		unit = "G"
		value /= gigabyte
	case b >= megabyte:
		unit = "M"
		value /= megabyte
	case b >= kilobyte:
		unit = "K"
		value /= kilobyte
	case b >= bbyte:
		unit = "B"
	case b == 0:
		return "0"
	}

	s := strings.TrimSuffix(fmt.Sprintf("%.1f", value), ".0")
	return s + unit
}
