// Package gift turns live chat text into a count of gifted memberships.
//
// Counts are capped at MaxAmount: "gifted 5000" yields 1000, not 5000.
package gift

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxAmount caps a single message's parsed count so a typo like "gifted 100000"
// cannot flood the wheel.
const MaxAmount = 1000

var countPattern = regexp.MustCompile(`(?i)gift(?:ed|ing)?\s+(\d+)`)

// Gift is one author's contribution extracted from a message.
type Gift struct {
	Name   string
	Amount int
}

// Count returns how many memberships text announces, at most MaxAmount.
//
//	"gifted 5 memberships" -> 5
//	"Gift 0"               -> 0
//	"thanks for the gift"  -> 1
//	"hello"                -> 0
//	"gifted 5000"          -> 1000
func Count(text string) int {
	if m := countPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n > MaxAmount {
			// only overflow fails Atoi on a digit run
			return MaxAmount
		}
		return n
	}
	if strings.Contains(strings.ToLower(text), "gift") {
		return 1
	}
	return 0
}

// Extract attributes Count(text) to author.
func Extract(author, text string) Gift {
	return Gift{Name: Author(author), Amount: Count(text)}
}

// Author normalizes a display name for the ledger.
func Author(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Unknown"
	}
	return name
}
