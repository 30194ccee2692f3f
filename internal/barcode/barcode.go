// Package barcode normalizes and validates retail barcodes.
//
// Every barcode that leaves this package valid is a 13 digit EAN-13 string whose last digit
// is the checksum of the first twelve. UPC-A codes (12 digits) are promoted by appending
// their check digit.
package barcode

import (
	"errors"
	"strings"

	"golang.org/x/text/width"
)

// Length is the digit count of a validated barcode.
const Length = 13

// ErrLength is returned by CheckDigit when the input is not twelve digits.
var ErrLength = errors.New("barcode: check digit needs exactly 12 digits")

// CheckDigit computes the EAN-13 check digit for a 12 digit string.
// Digits at even indexes weigh 1 and digits at odd indexes weigh 3.
func CheckDigit(first12 string) (byte, error) {
	if len(first12) != Length-1 || !allDigits(first12) {
		return 0, ErrLength
	}
	sum := 0
	for i := range len(first12) {
		d := int(first12[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return byte('0' + (10-sum%10)%10), nil
}

// Normalize turns raw user or decoder input into a candidate EAN-13.
//
// Full-width digits are folded to ASCII and every non-digit is dropped. Twelve digits get a
// check digit appended; more than thirteen are truncated. The boolean is false when the result
// is not thirteen digits long. Normalize does not verify the checksum, use IsValid for that.
func Normalize(raw string) (string, bool) {
	folded := width.Fold.String(raw)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == Length-1:
		check, err := CheckDigit(digits)
		if err != nil {
			return "", false
		}
		digits += string(check)
	case len(digits) > Length:
		digits = digits[:Length]
	}

	if len(digits) != Length {
		return digits, false
	}
	return digits, true
}

// IsValid reports whether code is exactly thirteen ASCII digits with a correct check digit.
func IsValid(code string) bool {
	if len(code) != Length || !allDigits(code) {
		return false
	}
	check, err := CheckDigit(code[:Length-1])
	if err != nil {
		return false
	}
	return code[Length-1] == check
}

// Canonical normalizes raw and verifies the checksum in one step.
func Canonical(raw string) (string, bool) {
	code, ok := Normalize(raw)
	if !ok || !IsValid(code) {
		return "", false
	}
	return code, true
}

func allDigits(s string) bool {
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
