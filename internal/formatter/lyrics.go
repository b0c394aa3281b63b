package formatter

import "strings"

// Lyrics shares Default's sentence/word splitting for training, but renders
// emitted tokens as title-cased lines: the first token and every token
// immediately following a newline are title-cased, and each newline is
// glued to the tokens on both sides with no intervening space; everything
// else is space-joined.
type Lyrics struct{}

// SplitSentences implements Formatter (shared with Default).
func (Lyrics) SplitSentences(corpus string) []string {
	return Default{}.SplitSentences(corpus)
}

// SplitTokens implements Formatter (shared with Default).
func (Lyrics) SplitTokens(sentence string) []string {
	return Default{}.SplitTokens(sentence)
}

// SentenceTerminator implements Formatter.
func (Lyrics) SentenceTerminator() string { return "\n" }

// Join implements Formatter.
func (Lyrics) Join(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleCase(tokens[0]))
	previous := tokens[0]
	for _, part := range tokens[1:] {
		if part == "\n" || previous == "\n" {
			b.WriteString(titleCase(part))
		} else {
			b.WriteString(" ")
			b.WriteString(part)
		}
		previous = part
	}
	return b.String()
}

// Split implements Formatter.
func (Lyrics) Split(s string) []string {
	var parts []string
	words := strings.Split(s, " ")
	for _, word := range words {
		word = strings.ToLower(word)
		if strings.Contains(word, "\n") {
			for strings.Contains(word, "\n") && len(word) != 0 {
				idx := strings.Index(word, "\n")
				first := word[:idx]
				second := word[idx+1:]
				if len(first) != 0 {
					parts = append(parts, first)
				}
				parts = append(parts, "\n")
				word = second
			}
			parts = append(parts, word)
		} else {
			parts = append(parts, word)
		}
	}
	return parts
}

// titleCase mimics Python str.title(): the first letter of every run of
// letters is upper-cased, every other letter is lower-cased; any non-letter
// (digits, apostrophes, "\n") resets the run boundary.
func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		letter := ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
		switch {
		case letter && !prevLetter:
			b.WriteRune(toUpper(r))
		case letter:
			b.WriteRune(toLower(r))
		default:
			b.WriteRune(r)
		}
		prevLetter = letter
	}
	return b.String()
}

func toUpper(r rune) rune {
	if 'a' <= r && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

func toLower(r rune) rune {
	if 'A' <= r && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
