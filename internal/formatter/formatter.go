// Package formatter implements the token formatter contract the Markov
// codec needs: splitting a corpus into sentences and words for training,
// and joining/splitting an emitted token list into a transmittable string.
// Three variants are provided: Default, Lyrics and Binary.
package formatter

// Formatter is the capability set the codec needs from a text-shaping
// strategy. All methods must be safe for concurrent use by multiple
// goroutines; the concrete variants below hold no mutable state so they
// trivially are.
type Formatter interface {
	// SplitSentences breaks a training corpus into raw sentences.
	SplitSentences(corpus string) []string

	// SplitTokens breaks one raw sentence into learnable tokens.
	SplitTokens(sentence string) []string

	// SentenceTerminator is the literal string emitted in place of the
	// TERM sentinel when joining an emitted token list.
	SentenceTerminator() string

	// Join renders an emitted token list (TERM already replaced by
	// SentenceTerminator by the caller) as a transmissible string.
	Join(tokens []string) string

	// Split is the inverse of Join: it recovers the token list from a
	// transmitted string. It must satisfy Split(Join(ts)) == ts for any
	// token list ts the codec emits, apart from empty tokens, which the
	// decoder discards.
	Split(s string) []string
}
