package flow

import "strings"

// IsValidDocument validates a Brazilian tax document: CPF (11 digits) or
// CNPJ (14 digits). Anything else is invalid.
func IsValidDocument(doc string) bool {
	digits := stripNonDigits(doc)
	switch len(digits) {
	case 11:
		return isValidCPF(digits)
	case 14:
		return isValidCNPJ(digits)
	}
	return false
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allEqual(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}

// isValidCPF runs the official modulo-11 check: first check digit over
// weights 10..2, second over 11..2. Sequences of one repeated digit pass
// the arithmetic but are not issued, so they are rejected up front.
func isValidCPF(digits string) bool {
	if allEqual(digits) {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(digits[i]-'0') * (10 - i)
	}
	if checkDigit(sum) != int(digits[9]-'0') {
		return false
	}

	sum = 0
	for i := 0; i < 10; i++ {
		sum += int(digits[i]-'0') * (11 - i)
	}
	return checkDigit(sum) == int(digits[10]-'0')
}

var cnpjWeightsFirst = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
var cnpjWeightsSecond = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}

func isValidCNPJ(digits string) bool {
	if allEqual(digits) {
		return false
	}

	sum := 0
	for i, w := range cnpjWeightsFirst {
		sum += int(digits[i]-'0') * w
	}
	if checkDigit(sum) != int(digits[12]-'0') {
		return false
	}

	sum = 0
	for i, w := range cnpjWeightsSecond {
		sum += int(digits[i]-'0') * w
	}
	return checkDigit(sum) == int(digits[13]-'0')
}

func checkDigit(sum int) int {
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}
