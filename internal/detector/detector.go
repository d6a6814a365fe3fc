// Package detector scores fetched posts with independent spam signals and
// combines them into a binary judgment.
package detector

import (
	"fmt"
	"strings"

	"github.com/whalez0416/keepy/internal/models"
)

// Reason strings are stable identifiers persisted on audit events; callers
// match on them, so they must not be reworded casually.
const (
	ReasonKeyword = "Keyword match (Gambling)"
	ReasonEntropy = "High entropy (gibberish)"
	ReasonPhone   = "Invalid phone number"
)

// Config holds detector policy. The weights and threshold are operational
// policy, not fixed law; deployments tune them via configuration.
type Config struct {
	Keywords         []string `json:"keywords"`
	KeywordWeight    float64  `json:"keyword_weight"`
	EntropyWeight    float64  `json:"entropy_weight"`
	PhoneWeight      float64  `json:"phone_weight"`
	EntropyThreshold float64  `json:"entropy_threshold"`
	SpamThreshold    float64  `json:"spam_threshold"`
}

// DefaultConfig returns the policy observed in production deployments.
func DefaultConfig() *Config {
	return &Config{
		Keywords:         []string{"카지노", "바다이야기", "도박", "슬롯", "토토"},
		KeywordWeight:    0.8,
		EntropyWeight:    0.5,
		PhoneWeight:      0.4,
		EntropyThreshold: 4.5,
		SpamThreshold:    0.7,
	}
}

// Detector judges posts against the configured signals.
type Detector struct {
	config *Config
}

// NewDetector creates a new detector
func NewDetector(config *Config) *Detector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Detector{config: config}
}

// Judge scores one post. Signals are evaluated in a fixed order (keyword,
// entropy, phone) and contribute additively; the total is capped at 1.0.
func (d *Detector) Judge(post *models.Post) models.Judgment {
	fullText := post.Subject + " " + post.Content

	var score float64
	var reasons []string

	if d.matchesKeyword(fullText) {
		score += d.config.KeywordWeight
		reasons = append(reasons, ReasonKeyword)
	}

	if Entropy(fullText) > d.config.EntropyThreshold {
		score += d.config.EntropyWeight
		reasons = append(reasons, ReasonEntropy)
	}

	if post.Phone != "" && !ValidPhone(post.Phone) {
		score += d.config.PhoneWeight
		reasons = append(reasons, ReasonPhone)
	}

	if score > 1.0 {
		score = 1.0
	}

	return models.Judgment{
		IsSpam:  score >= d.config.SpamThreshold,
		Score:   score,
		Reasons: reasons,
	}
}

// matchesKeyword reports whether any configured keyword occurs in the
// text. Latin keywords match case-insensitively; non-latin keywords are
// exact substrings, which lowering leaves untouched.
func (d *Detector) matchesKeyword(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range d.config.Keywords {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Describe summarizes a judgment for event messages.
func Describe(j models.Judgment) string {
	return fmt.Sprintf("score=%.2f reasons=[%s]", j.Score, strings.Join(j.Reasons, ", "))
}
