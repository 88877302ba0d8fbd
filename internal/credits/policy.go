// Package credits provides charge calculation for audio generation.
package credits

import (
	"os"
	"strconv"
)

// Policy constants. These can be overridden via environment variables so
// pricing changes don't require a rebuild.
var (
	// MinimumBillableMinutes is the duration floor applied to every generation.
	// Default: 3 minutes
	MinimumBillableMinutes = getEnvInt("CREDITS_MIN_BILLABLE_MINUTES", 3)

	// MinutesPerCredit is how many minutes of audio one credit buys.
	// Default: 20 minutes/credit
	MinutesPerCredit = getEnvInt("CREDITS_MINUTES_PER_CREDIT", 20)

	// WordsPerMinute is the narration rate used to estimate audio duration
	// from a word count. Used for previewing cost only.
	// Default: 150 wpm
	WordsPerMinute = getEnvInt("CREDITS_WORDS_PER_MINUTE", 150)
)

// Charge is the result of computing the cost of a generation.
type Charge struct {
	CreditsNeeded            int `json:"credits_needed"`
	NewTimeBankMinutes       int `json:"new_time_bank_minutes"`
	EffectiveDurationMinutes int `json:"effective_duration_minutes"`
}

// EstimateDuration returns the estimated audio duration in minutes for a
// word count, rounding up so a partial minute bills as a full one.
func EstimateDuration(wordCount int) int {
	if wordCount <= 0 {
		return 0
	}
	return (wordCount + WordsPerMinute - 1) / WordsPerMinute
}

// ComputeCharge computes how many credits a generation of the given duration
// costs, drawing down the caller's banked minutes first. When credits are
// charged, the unused remainder of the last credit is banked for next time.
// Pure function; callers apply it both for previews and real reservations.
func ComputeCharge(durationMinutes, timeBankMinutes int) Charge {
	effective := durationMinutes
	if effective < MinimumBillableMinutes {
		effective = MinimumBillableMinutes
	}

	net := effective - timeBankMinutes
	if net < 0 {
		net = 0
	}

	creditsNeeded := (net + MinutesPerCredit - 1) / MinutesPerCredit

	var newBank int
	if creditsNeeded > 0 {
		newBank = creditsNeeded*MinutesPerCredit - net
	} else {
		newBank = timeBankMinutes - effective
	}

	return Charge{
		CreditsNeeded:            creditsNeeded,
		NewTimeBankMinutes:       newBank,
		EffectiveDurationMinutes: effective,
	}
}

// getEnvInt returns an environment variable as int, or the default if not set.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
