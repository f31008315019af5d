package normalize

import "strings"

const (
	minBarcodeDigits = 6
	maxBarcodeDigits = 14
)

// CanonicalBarcode strips separators and leading zeros. It returns "" unless
// what remains is 6 to 14 digits.
func CanonicalBarcode(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ':
		default:
			return ""
		}
	}
	s := strings.TrimLeft(b.String(), "0")
	if len(s) < minBarcodeDigits || len(s) > maxBarcodeDigits {
		return ""
	}
	return s
}
