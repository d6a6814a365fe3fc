package detector

import "strings"

// ValidPhone checks whether a phone-like field plausibly belongs to a real
// person. After stripping separators it rejects values that are shorter
// than 8 digits, a single repeated digit, all zeros or ones, or a
// sequential run. The sequential step wraps past 9, so 1234567890 counts.
func ValidPhone(phone string) bool {
	if strings.TrimSpace(phone) == "" {
		return false
	}

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '-', '.', '(', ')', ' ':
			return -1
		}
		return r
	}, phone)

	if len(cleaned) < 8 {
		return false
	}

	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return false
		}
	}

	repeated := true
	for i := 1; i < len(cleaned); i++ {
		if cleaned[i] != cleaned[0] {
			repeated = false
			break
		}
	}
	if repeated {
		return false
	}

	sequential := true
	for i := 1; i < len(cleaned); i++ {
		if cleaned[i]-'0' != (cleaned[i-1]-'0'+1)%10 {
			sequential = false
			break
		}
	}
	return !sequential
}
