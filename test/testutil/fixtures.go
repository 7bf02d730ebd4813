package testutil

import (
	"github.com/arcvault/arcvault/internal/services/creds"
)

// TestPassword satisfies the password policy and matches the value the
// design's acceptance checks are written against.
const TestPassword = "Str0ng!Passw0rd123"

// TestPassword2 is a second policy-compliant password for change tests.
const TestPassword2 = "An0ther!Passw0rd456"

// TestQuestions is a standard recovery question set.
func TestQuestions() []creds.QuestionAnswer {
	return []creds.QuestionAnswer{
		{Question: "First pet's name?", Answer: "Bramble"},
		{Question: "Street you grew up on?", Answer: "Larkspur Lane"},
		{Question: "First concert?", Answer: "The Mountain Goats"},
	}
}

// TestAnswers returns the answers of TestQuestions in order.
func TestAnswers() []string {
	qs := TestQuestions()
	answers := make([]string, len(qs))
	for i, q := range qs {
		answers[i] = q.Answer
	}
	return answers
}

// WrongAnswers is an answer set of the right shape that never matches.
func WrongAnswers() []string {
	return []string{"Daisy", "Elm Street", "Nobody"}
}

// SampleFiles maps names to small plaintext fixtures covering the
// coarse type tags.
var SampleFiles = map[string][]byte{
	"notes.txt":    []byte("the quick brown fox jumps over the lazy dog\n"),
	"report.pdf":   []byte("%PDF-1.4 not really a pdf but typed like one"),
	"photo.jpg":    {0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'},
	"archive.zip":  {'P', 'K', 0x03, 0x04, 0x14, 0x00},
	"empty.bin":    {},
	"one-byte.dat": {0x42},
}
