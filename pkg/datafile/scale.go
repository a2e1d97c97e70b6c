package datafile

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

var unscaleRegexp = regexp.MustCompile(`^([0-9.]+) *([GMK]?)$`)

// Scale returns a string describing a number, with a "K", "M" or "G" suffix
// (powers of 1000) to keep the number small and readable.
//
// units is an additional designation, such as "bps" or "/s", appended after
// the suffix.
func Scale(number float64, units string) string {
	if number > 1000000000 {
		return fmt.Sprintf("%.1f G%s", number/1000000000.0, units)
	}
	if number > 1000000 {
		return fmt.Sprintf("%.1f M%s", number/1000000.0, units)
	}
	if number > 1000 {
		return fmt.Sprintf("%.1f K%s", number/1000.0, units)
	}
	space := " "
	if units == "" {
		space = ""
	}
	return fmt.Sprintf("%.1f%s%s", number, space, units)
}

// Unscale parses a string representation of a number which may carry a "K",
// "M" or "G" scale factor (e.g. "1.2 M") and returns the actual number
// (e.g. 1200000).
func Unscale(number string) (float64, error) {
	match := unscaleRegexp.FindStringSubmatch(number)
	if match == nil {
		return 0, errors.Errorf("couldn't unscale '%s': bad syntax", number)
	}
	mantissa, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, errors.Errorf("couldn't unscale '%s': bad syntax", number)
	}
	switch match[2] {
	case "G":
		return mantissa * 1e09, nil
	case "M":
		return mantissa * 1e06, nil
	case "K":
		return mantissa * 1e03, nil
	}
	return mantissa, nil
}
