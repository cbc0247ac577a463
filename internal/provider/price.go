package provider

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// maxMajor is the largest major amount whose minor value fits in int64.
const maxMajor = (math.MaxInt64 - 99) / 100

var numberRegex = regexp.MustCompile(`\d[\d\s\x{00a0}\x{202f}.,']*`)

// ParsePrice extracts the first amount in text and returns it in minor units
// (hundredths). A final "." or "," followed by one or two digits is the
// decimal separator; every other separator groups thousands.
//
//	"12 500 сум" -> 1250000
//	"1,234.5"    -> 123450
//	"99,90 €"    -> 9990
func ParsePrice(text string) (int64, bool) {
	m := numberRegex.FindString(text)
	m = strings.TrimRightFunc(m, func(r rune) bool { return r < '0' || r > '9' })
	if m == "" {
		return 0, false
	}

	intPart, frac := m, ""
	if i := strings.LastIndexAny(m, ".,"); i >= 0 {
		if rest := m[i+1:]; len(rest) <= 2 && isDigits(rest) {
			intPart, frac = m[:i], rest
		}
	}

	var digits strings.Builder
	for _, r := range intPart {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	whole, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil || whole > maxMajor {
		return 0, false
	}
	minor := whole * 100
	if frac != "" {
		if len(frac) == 1 {
			frac += "0"
		}
		f, _ := strconv.ParseInt(frac, 10, 64)
		minor += f
	}
	return minor, true
}

// MajorToMinor converts a decimal amount in major units to minor units.
func MajorToMinor(v float64) (int64, bool) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	minor := math.Round(v * 100)
	if minor >= math.MaxInt64 {
		return 0, false
	}
	return int64(minor), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
