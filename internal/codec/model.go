package codec

import (
	"sort"
	"sync"

	"github.com/cylance/MarkovObfuscate/internal/formatter"
)

// termToken is the sentinel marking sentence start/end, distinct from any
// real token a formatter can produce.
const termToken = "--terminate--"

// successor is one entry of a token's descending-count, tie-broken
// successor list: the digit value of a token is its index in this list.
type successor struct {
	token string
	count int
}

// Model is the trained Markov adjacency graph plus its configured alphabet
// size. It is created empty, mutated only by LearnSentence/LearnBook or
// LoadEdges, and thereafter read-only during Obfuscate/Deobfuscate.
type Model struct {
	base  int
	width int
	fmt   formatter.Formatter

	mu     sync.RWMutex
	succ   map[string]map[string]int
	sorted map[string][]successor
}

// NewModel constructs an empty model. base must satisfy 2 <= base <= 256.
func NewModel(base int, f formatter.Formatter) (*Model, error) {
	if base < 2 || base > 256 {
		return nil, ErrInvalidBase
	}
	return &Model{
		base:   base,
		width:  digitWidth(base),
		fmt:    f,
		succ:   map[string]map[string]int{termToken: {}},
		sorted: make(map[string][]successor),
	}, nil
}

// Base returns the configured alphabet size B.
func (m *Model) Base() int { return m.base }

// Width returns W, the number of base-B digits each input byte expands to.
func (m *Model) Width() int { return m.width }

// Formatter returns the formatter this model tokenizes and renders with.
func (m *Model) Formatter() formatter.Formatter { return m.fmt }

// LearnSentence tokenizes raw with the model's formatter and updates the
// adjacency counts: TERM->first token, each adjacent pair, and last token->TERM.
func (m *Model) LearnSentence(raw string) {
	parts := m.fmt.SplitTokens(raw)
	if len(parts) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.increment(parts[len(parts)-1], termToken)

	last := termToken
	for _, p := range parts {
		m.increment(last, p)
		last = p
	}

	// Training invalidates any memoized successor lists.
	m.sorted = make(map[string][]successor)
}

// LearnBook splits corpus into sentences with the model's formatter and
// learns each one.
func (m *Model) LearnBook(corpus string) {
	for _, s := range m.fmt.SplitSentences(corpus) {
		m.LearnSentence(s)
	}
}

// increment must be called with m.mu held for writing.
func (m *Model) increment(from, to string) {
	bucket, ok := m.succ[from]
	if !ok {
		bucket = make(map[string]int)
		m.succ[from] = bucket
	}
	bucket[to]++
}

// successors returns the cached, descending-count, lexicographically
// tie-broken successor list for t, building and memoizing it on first
// access. The second return is false if t was never seen in training.
func (m *Model) successors(t string) ([]successor, bool) {
	m.mu.RLock()
	if s, ok := m.sorted[t]; ok {
		m.mu.RUnlock()
		return s, true
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sorted[t]; ok {
		return s, true
	}
	bucket, ok := m.succ[t]
	if !ok {
		return nil, false
	}
	list := make([]successor, 0, len(bucket))
	for tok, cnt := range bucket {
		list = append(list, successor{token: tok, count: cnt})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].token < list[j].token
	})
	m.sorted[t] = list
	return list, true
}

// Edge is one raw adjacency count, as recorded by LearnSentence, exposed for
// persistence. From/To use "" to address the TERM sentinel.
type Edge struct {
	From  string
	To    string
	Count int
}

// Edges dumps the full raw adjacency table for persistence. The order is
// unspecified.
func (m *Model) Edges() []Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var edges []Edge
	for from, bucket := range m.succ {
		fromKey := from
		if fromKey == termToken {
			fromKey = ""
		}
		for to, count := range bucket {
			toKey := to
			if toKey == termToken {
				toKey = ""
			}
			edges = append(edges, Edge{From: fromKey, To: toKey, Count: count})
		}
	}
	return edges
}

// LoadEdges rebuilds a model's adjacency table from a previously-dumped
// Edges() slice, replacing any training already present. It is the
// counterpart store implementations use to reconstruct a Model without
// replaying the original corpus.
func (m *Model) LoadEdges(edges []Edge) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.succ = map[string]map[string]int{termToken: {}}
	for _, e := range edges {
		from := e.From
		if from == "" {
			from = termToken
		}
		to := e.To
		if to == "" {
			to = termToken
		}
		bucket, ok := m.succ[from]
		if !ok {
			bucket = make(map[string]int)
			m.succ[from] = bucket
		}
		bucket[to] = e.Count
	}
	m.sorted = make(map[string][]successor)
}

// Successors exposes the trained successor list for token t, for
// introspection/testing. TERM is addressed by the empty string "".
func (m *Model) Successors(t string) (tokens []string, counts []int, ok bool) {
	key := t
	if t == "" {
		key = termToken
	}
	list, found := m.successors(key)
	if !found {
		return nil, nil, false
	}
	tokens = make([]string, len(list))
	counts = make([]int, len(list))
	for i, s := range list {
		tokens[i] = s.token
		counts[i] = s.count
	}
	return tokens, counts, true
}
