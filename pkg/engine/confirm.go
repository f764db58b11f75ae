package engine

import (
	"strings"
)

// confirmVerdict classifies a user's answer to a confirmation question.
type confirmVerdict int

const (
	confirmAmbiguous confirmVerdict = iota
	confirmAffirmative
	confirmNegative
)

var affirmativeWords = map[string]struct{}{
	"yes": {}, "y": {}, "yeah": {}, "yep": {}, "yup": {}, "sure": {},
	"ok": {}, "okay": {}, "confirm": {}, "confirmed": {}, "correct": {},
	"proceed": {}, "affirmative": {}, "absolutely": {},
}

var negativeWords = map[string]struct{}{
	"no": {}, "n": {}, "nope": {}, "nah": {}, "cancel": {}, "stop": {},
	"dont": {}, "abort": {}, "negative": {}, "nevermind": {},
}

var negativePhrases = []string{"never mind", "do not", "don't", "forget it", "not now"}

var affirmativePhrases = []string{"go ahead", "do it", "please do", "sounds good"}

// parseConfirmation never guesses: anything not clearly yes or clearly no is
// ambiguous, and negation wins over affirmation when both appear.
func parseConfirmation(text string) confirmVerdict {
	normalized := strings.ToLower(strings.TrimSpace(text))

	for _, phrase := range negativePhrases {
		if strings.Contains(normalized, phrase) {
			return confirmNegative
		}
	}

	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	affirmative := false

	for _, word := range words {
		if _, ok := negativeWords[word]; ok {
			return confirmNegative
		}

		if _, ok := affirmativeWords[word]; ok {
			affirmative = true
		}
	}

	if affirmative {
		return confirmAffirmative
	}

	for _, phrase := range affirmativePhrases {
		if strings.Contains(normalized, phrase) {
			return confirmAffirmative
		}
	}

	return confirmAmbiguous
}
