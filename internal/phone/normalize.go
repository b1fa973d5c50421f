// Package phone canonicalizes device phone numbers into an E.164-like form.
// The normalized string is the only de-duplication key used across the
// engine: two inputs that normalize identically are the same contact.
package phone

import "strings"

const (
	DefaultCountryCode = "+33"
	DefaultMinDigits   = 8
)

// Normalizer holds the locale assumptions applied to numbers without a
// country prefix.
type Normalizer struct {
	// CountryCode is prepended to national numbers, e.g. "+33".
	CountryCode string
	// MinDigits is the shortest digit count accepted; shorter results normalize to "".
	MinDigits int
}

// Default is the normalizer used by the package level helpers.
var Default = Normalizer{CountryCode: DefaultCountryCode, MinDigits: DefaultMinDigits}

// Normalize is Default.Normalize.
func Normalize(raw string) string { return Default.Normalize(raw) }

// Same reports whether a and b normalize to the same non-empty number.
func Same(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

// Normalize maps raw to "+<digits>" or "" when the input cannot be a phone number.
// It is idempotent.
func (n Normalizer) Normalize(raw string) string {
	digits, plus := strip(raw)
	cc := strings.TrimPrefix(n.countryCode(), "+")

	if !plus {
		switch {
		case strings.HasPrefix(digits, "00"):
			digits = digits[2:]
		case strings.HasPrefix(digits, "0"):
			digits = cc + digits[1:]
		case len(digits) == 10 && (digits[0] == '6' || digits[0] == '7'):
			digits = cc + digits
		case len(digits) == 10 && digits[0] == '1':
			// North American number already carrying its country code.
		case len(digits) == 11 && strings.HasPrefix(digits, "44"):
			// UK number already carrying its country code.
		case len(digits) >= n.minDigits():
			digits = cc + digits
		}
	}

	if len(digits) < n.minDigits() {
		return ""
	}
	return "+" + digits
}

func (n Normalizer) countryCode() string {
	if n.CountryCode == "" {
		return DefaultCountryCode
	}
	return n.CountryCode
}

func (n Normalizer) minDigits() int {
	if n.MinDigits <= 0 {
		return DefaultMinDigits
	}
	return n.MinDigits
}

// strip keeps ASCII digits; a '+' counts only when it precedes every digit.
func strip(raw string) (string, bool) {
	var b strings.Builder
	b.Grow(len(raw))
	plus := false
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			plus = true
		}
	}
	return b.String(), plus
}
