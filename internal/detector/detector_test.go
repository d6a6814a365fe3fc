package detector

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalez0416/keepy/internal/models"
)

func TestEntropy(t *testing.T) {
	assert.Equal(t, 0.0, Entropy(""))
	assert.Equal(t, 0.0, Entropy("aaaaaaaa"), "A single repeated character carries no information")
	assert.InDelta(t, 1.0, Entropy("abab"), 1e-9, "Two equally frequent characters yield 1 bit")
	assert.InDelta(t, 2.0, Entropy("abcd"), 1e-9, "Four distinct characters yield 2 bits")
	assert.InDelta(t, math.Log2(8), Entropy("abcdefgh"), 1e-9)
}

func TestEntropyCountsRunesNotBytes(t *testing.T) {
	// Four distinct hangul syllables: 2 bits regardless of UTF-8 width.
	assert.InDelta(t, 2.0, Entropy("가나다라"), 1e-9)
}

func TestValidPhone(t *testing.T) {
	valid := []string{
		"010-1234-5678",
		"02-555-1234",
		"(031) 123-4567",
		"01098765432",
	}
	for _, p := range valid {
		assert.True(t, ValidPhone(p), p)
	}

	invalid := []string{
		"",
		"   ",
		"1234567",       // too short
		"0000000000",    // repeated digit
		"1111111111",    // repeated digit
		"070-abcd-5678", // letters
		"12345678",      // sequential
		"1234567890",    // sequential, the step wraps past 9
		"9012345678",    // sequential, wraps at the front
	}
	for _, p := range invalid {
		assert.False(t, ValidPhone(p), p)
	}
}

func TestJudgeKeywordSignal(t *testing.T) {
	d := NewDetector(nil)

	j := d.Judge(&models.Post{Subject: "무료 카지노 쿠폰", Content: "지금 바로"})
	assert.True(t, j.IsSpam)
	assert.InDelta(t, 0.8, j.Score, 1e-9)
	assert.Equal(t, []string{ReasonKeyword}, j.Reasons)
}

func TestJudgeCleanPost(t *testing.T) {
	d := NewDetector(nil)

	post := &models.Post{
		Subject: "예약 문의",
		Content: "예약 가능한가요? 예약 부탁드립니다.",
		Phone:   "010-1234-5678",
	}
	require.Less(t, Entropy(post.Subject+" "+post.Content), 4.5)

	j := d.Judge(post)
	assert.False(t, j.IsSpam)
	assert.Empty(t, j.Reasons)
}

func TestJudgeEntropyAloneBelowThreshold(t *testing.T) {
	// High entropy contributes 0.5, short of the 0.7 decision line on
	// its own.
	d := NewDetector(nil)

	gibberish := "aB3#xQ9!zL7@mK2$pW5%vR8^nT4&cY6*eU1(hJ0)다람쥐헌쳇바퀴"
	require.Greater(t, Entropy(gibberish), 4.5)

	j := d.Judge(&models.Post{Subject: gibberish})
	assert.False(t, j.IsSpam)
	assert.InDelta(t, 0.5, j.Score, 1e-9)
	assert.Equal(t, []string{ReasonEntropy}, j.Reasons)
}

func TestJudgeCombinedSignalsCapAtOne(t *testing.T) {
	d := NewDetector(nil)

	gibberish := "카지노 aB3#xQ9!zL7@mK2$pW5%vR8^nT4&cY6*eU1(hJ0)다람쥐헌쳇바퀴"
	require.Greater(t, Entropy(gibberish), 4.5)

	j := d.Judge(&models.Post{
		Subject: gibberish,
		Phone:   "0000000000",
	})
	assert.True(t, j.IsSpam)
	assert.Equal(t, 1.0, j.Score, "0.8+0.5+0.4 caps at 1.0")
	assert.Equal(t, []string{ReasonKeyword, ReasonEntropy, ReasonPhone},
		j.Reasons, "Reasons keep signal evaluation order")
}

func TestJudgePhoneSignalOnlyWhenPresent(t *testing.T) {
	d := NewDetector(nil)

	// No phone column mapped: the signal stays silent.
	j := d.Judge(&models.Post{Subject: "hello", Content: "world"})
	assert.NotContains(t, j.Reasons, ReasonPhone)

	// Invalid phone alone scores 0.4, below threshold.
	j = d.Judge(&models.Post{Subject: "인사드립니다", Content: "잘 부탁드립니다", Phone: "123"})
	assert.False(t, j.IsSpam)
	assert.Equal(t, []string{ReasonPhone}, j.Reasons)
}

func TestJudgeConfigurableThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 0.4
	d := NewDetector(cfg)

	j := d.Judge(&models.Post{Subject: "문의합니다", Phone: "123"})
	assert.True(t, j.IsSpam, "Lowered threshold turns a weak signal into a judgment")
}

func TestDescribe(t *testing.T) {
	out := Describe(models.Judgment{Score: 0.8, Reasons: []string{ReasonKeyword}})
	assert.True(t, strings.Contains(out, "0.80"))
	assert.True(t, strings.Contains(out, ReasonKeyword))
}
