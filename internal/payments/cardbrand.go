package payments

import "strings"

type brandRule struct {
	brand   string
	prefix  string
	lengths []int
}

// brandRules is consulted longest prefix first, so entries that share a
// leading digit (Elo against Visa, Hipercard against Maestro ranges)
// resolve to the more specific brand.
var brandRules = []brandRule{
	{"elo", "401178", []int{16}},
	{"elo", "401179", []int{16}},
	{"elo", "431274", []int{16}},
	{"elo", "438935", []int{16}},
	{"elo", "451416", []int{16}},
	{"elo", "457393", []int{16}},
	{"elo", "504175", []int{16}},
	{"elo", "506699", []int{16}},
	{"elo", "509048", []int{16}},
	{"elo", "509067", []int{16}},
	{"elo", "627780", []int{16}},
	{"elo", "636297", []int{16}},
	{"elo", "636368", []int{16}},
	{"elo", "650031", []int{16}},
	{"elo", "651652", []int{16}},
	{"elo", "655000", []int{16}},
	{"hipercard", "606282", []int{16, 19}},
	{"hipercard", "384100", []int{16, 19}},
	{"diners", "300", []int{14, 16}},
	{"diners", "301", []int{14, 16}},
	{"diners", "302", []int{14, 16}},
	{"diners", "303", []int{14, 16}},
	{"diners", "304", []int{14, 16}},
	{"diners", "305", []int{14, 16}},
	{"mastercard", "2221", []int{16}},
	{"mastercard", "2720", []int{16}},
	{"diners", "36", []int{14, 16}},
	{"diners", "38", []int{14, 16}},
	{"amex", "34", []int{15}},
	{"amex", "37", []int{15}},
	{"mastercard", "51", []int{16}},
	{"mastercard", "52", []int{16}},
	{"mastercard", "53", []int{16}},
	{"mastercard", "54", []int{16}},
	{"mastercard", "55", []int{16}},
	{"mastercard", "22", []int{16}},
	{"mastercard", "23", []int{16}},
	{"mastercard", "24", []int{16}},
	{"mastercard", "25", []int{16}},
	{"mastercard", "26", []int{16}},
	{"mastercard", "27", []int{16}},
	{"visa", "4", []int{13, 16, 19}},
}

// DetectBrand identifies the card brand from the PAN. It strips spaces
// and dashes before matching and rejects numbers whose length does not
// fit the matched brand.
func DetectBrand(number string) (string, bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if digits == "" {
		return "", false
	}
	for _, rule := range brandRules {
		if !strings.HasPrefix(digits, rule.prefix) {
			continue
		}
		for _, l := range rule.lengths {
			if len(digits) == l {
				return rule.brand, true
			}
		}
		return "", false
	}
	return "", false
}
