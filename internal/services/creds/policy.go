package creds

import (
	"math/bits"
	"regexp"
	"strings"

	"github.com/arcvault/arcvault/internal/models"
)

// Password policy bounds. The maximum exists because bcrypt rejects
// inputs past 72 bytes.
const (
	MinPasswordLength = 12
	MaxPasswordLength = 64

	minEntropyScore = 3.5
)

var (
	upperPattern    = regexp.MustCompile(`[A-Z]`)
	lowerPattern    = regexp.MustCompile(`[a-z]`)
	digitPattern    = regexp.MustCompile(`[0-9]`)
	specialPattern  = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
	allowedPattern  = regexp.MustCompile(`^[A-Za-z0-9!@#$%^&*(),.?":{}|<>]+$`)
	nonAlnumPattern = regexp.MustCompile(`[^a-zA-Z0-9]`)
	digitRunPattern = regexp.MustCompile(`(0123|1234|2345|3456|4567|5678|6789|7890)`)
)

var weakSubstrings = []string{
	"12345678",
	"password",
	"qwerty",
	"admin",
	"welcome",
}

// CheckPassword validates a master or folder password against the
// strength policy. All violations are collected into one PolicyError.
func CheckPassword(password string) error {
	var reasons []string

	if len(password) < MinPasswordLength {
		reasons = append(reasons, "must be at least 12 characters")
	}
	if len(password) > MaxPasswordLength {
		reasons = append(reasons, "must be at most 64 characters")
	}
	if !upperPattern.MatchString(password) {
		reasons = append(reasons, "must contain an uppercase letter")
	}
	if !lowerPattern.MatchString(password) {
		reasons = append(reasons, "must contain a lowercase letter")
	}
	if !digitPattern.MatchString(password) {
		reasons = append(reasons, "must contain a digit")
	}
	if !specialPattern.MatchString(password) {
		reasons = append(reasons, `must contain one of !@#$%^&*(),.?":{}|<>`)
	}
	if password != "" && !allowedPattern.MatchString(password) {
		reasons = append(reasons, "may only contain latin letters, digits, and common punctuation")
	}
	if hasCommonPattern(password) {
		reasons = append(reasons, "contains a common word or character sequence")
	}
	if entropyScore(password) < minEntropyScore {
		reasons = append(reasons, "is too predictable")
	}

	if len(reasons) > 0 {
		return &models.PolicyError{Reasons: reasons}
	}
	return nil
}

// hasCommonPattern checks the deny list: known weak substrings, runs of
// four or more identical characters, and ascending digit runs.
func hasCommonPattern(password string) bool {
	lowered := strings.ToLower(password)

	for _, weak := range weakSubstrings {
		if strings.Contains(lowered, weak) {
			return true
		}
	}

	if digitRunPattern.MatchString(lowered) {
		return true
	}

	run := 0
	var prev rune
	for i, r := range lowered {
		if i > 0 && r == prev {
			run++
			if run >= 3 {
				return true
			}
		} else {
			run = 0
		}
		prev = r
	}

	return false
}

// entropyScore estimates strength as length times the bit width of the
// character classes in use, scaled down by ten.
func entropyScore(password string) float64 {
	charset := 0
	if lowerPattern.MatchString(password) {
		charset += 26
	}
	if upperPattern.MatchString(password) {
		charset += 26
	}
	if digitPattern.MatchString(password) {
		charset += 10
	}
	if nonAlnumPattern.MatchString(password) {
		charset += 32
	}
	if charset == 0 {
		charset = 1
	}

	return float64(len(password)*bits.Len(uint(charset))) / 10
}
