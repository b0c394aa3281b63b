package formatter

import (
	"regexp"
	"strings"
)

var (
	sentenceSplit = regexp.MustCompile(`[\n.]`)
	wordToken     = regexp.MustCompile(`\w[\w']*`)
)

// Default is the book-style formatter: sentences split on newline or period,
// tokens are lower-cased word-regex matches, joined/split with a single
// space.
type Default struct{}

// SplitSentences implements Formatter.
func (Default) SplitSentences(corpus string) []string {
	return sentenceSplit.Split(corpus, -1)
}

// SplitTokens implements Formatter.
func (Default) SplitTokens(sentence string) []string {
	return wordToken.FindAllString(strings.ToLower(sentence), -1)
}

// SentenceTerminator implements Formatter.
func (Default) SentenceTerminator() string { return "." }

// Join implements Formatter.
func (Default) Join(tokens []string) string {
	return strings.Join(tokens, " ")
}

// Split implements Formatter.
func (Default) Split(s string) []string {
	return strings.Split(s, " ")
}
