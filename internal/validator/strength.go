package validator

import "strings"

// Strength scores a password from 0 to 100. Only exact common-password
// matches are penalized here; [Validator.Password] also rejects containment.
func (v *Validator) Strength(password string) int {
	score := 0
	n := len(password)
	if n >= 8 {
		score += 25
	}
	if n >= 12 {
		score += 15
	}
	if n >= 16 {
		score += 10
	}

	c := classify(password)
	if c.lower > 0 {
		score += 10
	}
	if c.upper > 0 {
		score += 10
	}
	if c.digits > 0 {
		score += 10
	}
	if c.symbols > 0 {
		score += 15
	}

	if v.isCommonExact(password) {
		score -= 50
	}
	if hasTripleRepeat(password) {
		score -= 20
	}

	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// Suggestions lists what the password is missing.
func (v *Validator) Suggestions(password string) []string {
	var out []string
	if len(password) < v.cfg.MinPasswordLength {
		out = append(out, "Use at least 8 characters")
	}

	c := classify(password)
	if c.lower == 0 {
		out = append(out, "Add lower case letters")
	}
	if c.upper == 0 {
		out = append(out, "Add upper case letters")
	}
	if c.digits == 0 {
		out = append(out, "Add digits")
	}
	if c.symbols == 0 {
		out = append(out, "Add symbols such as !@#$%")
	}
	if v.isCommonExact(password) {
		out = append(out, "Avoid common passwords")
	}
	if hasTripleRepeat(password) {
		out = append(out, "Avoid repeating the same character")
	}
	return out
}

func hasTripleRepeat(s string) bool {
	runes := []rune(strings.ToLower(s))
	for i := 2; i < len(runes); i++ {
		if runes[i] == runes[i-1] && runes[i] == runes[i-2] {
			return true
		}
	}
	return false
}

func (v *Validator) isCommonExact(password string) bool {
	lower := strings.ToLower(password)
	for _, common := range v.common {
		if lower == common {
			return true
		}
	}
	return false
}
