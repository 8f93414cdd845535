// Package cpf validates Brazilian tax identifiers: CPF for individuals
// (11 digits) and CNPJ for organizations (14 digits).
package cpf

import "strings"

// Normalize strips everything but digits, so formatted input
// ("111.444.777-35", "12.345.678/0001-95") is accepted.
func Normalize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether the normalized identifier is a well-formed
// CPF or CNPJ, including its verifier digits.
func Valid(digits string) bool {
	switch len(digits) {
	case 11:
		return validCPF(digits)
	case 14:
		return validCNPJ(digits)
	default:
		return false
	}
}

// IsOrganization reports whether the identifier has CNPJ length.
func IsOrganization(digits string) bool {
	return len(digits) == 14
}

func validCPF(digits string) bool {
	if allSame(digits) {
		return false
	}
	d := toInts(digits)
	if d == nil {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += d[i] * (10 - i)
	}
	if d[9] != verifier(sum) {
		return false
	}

	sum = 0
	for i := 0; i < 10; i++ {
		sum += d[i] * (11 - i)
	}
	return d[10] == verifier(sum)
}

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

func validCNPJ(digits string) bool {
	if allSame(digits) {
		return false
	}
	d := toInts(digits)
	if d == nil {
		return false
	}

	sum := 0
	for i, w := range cnpjWeights1 {
		sum += d[i] * w
	}
	if d[12] != cnpjVerifier(sum) {
		return false
	}

	sum = 0
	for i, w := range cnpjWeights2 {
		sum += d[i] * w
	}
	return d[13] == cnpjVerifier(sum)
}

// verifier computes a CPF check digit: (sum*10 mod 11) mod 10.
func verifier(sum int) int {
	return sum * 10 % 11 % 10
}

// cnpjVerifier computes a CNPJ check digit: 11 - (sum mod 11), with
// results of 10 or 11 collapsing to 0.
func cnpjVerifier(sum int) int {
	v := 11 - sum%11
	if v >= 10 {
		return 0
	}
	return v
}

func toInts(digits string) []int {
	out := make([]int, len(digits))
	for i, r := range digits {
		if r < '0' || r > '9' {
			return nil
		}
		out[i] = int(r - '0')
	}
	return out
}

func allSame(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}
