package harvest

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

const voteLabel = "赞同"

// MaxVotes is the largest count NormalizeVotes reports; anything above it is
// treated as unparseable.
const MaxVotes = math.MaxInt32

var voteMultipliers = map[string]float64{
	"K": 1_000,
	"k": 1_000,
	"千": 1_000,
	"万": 10_000,
	"w": 10_000,
	"W": 10_000,
}

// NormalizeVotes converts a displayed vote count such as "1.2万", "3.5K" or
// "赞同 42" into an integer. Unparseable or negative input yields 0.
func NormalizeVotes(raw string) int {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == ',' {
			return -1
		}
		return r
	}, raw)
	s = strings.TrimPrefix(s, voteLabel)
	if s == "" {
		return 0
	}
	for suffix, mult := range voteMultipliers {
		num, ok := strings.CutSuffix(s, suffix)
		if !ok {
			continue
		}
		if !isDecimal(num) {
			return 0
		}
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0
		}
		v := math.Round(f * mult)
		if v > MaxVotes {
			return 0
		}
		return int(v)
	}
	if !isDigits(s) {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n > MaxVotes {
		return 0
	}
	return int(n)
}

// isDecimal matches <digits>[.<digits>].
func isDecimal(s string) bool {
	whole, frac, hasDot := strings.Cut(s, ".")
	if !isDigits(whole) {
		return false
	}
	return !hasDot || isDigits(frac)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
