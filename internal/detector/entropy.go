package detector

import "math"

// Entropy computes the Shannon entropy of the text's character
// distribution in bits per character. A single repeated character yields
// 0; k distinct equally frequent characters yield log2(k). Obfuscated or
// machine-generated spam tends to score well above natural language.
func Entropy(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}

	freq := make(map[rune]int, len(runes))
	for _, r := range runes {
		freq[r]++
	}

	n := float64(len(runes))
	var entropy float64
	for _, count := range freq {
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
