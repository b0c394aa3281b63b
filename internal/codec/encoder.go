package codec

import "math/rand"

// maxAlgorithmAttempts caps the restart-on-dead-end loop below: an
// unbounded retry would be correct but turns a structurally-too-sparse
// model into a hang instead of a reported error.
const maxAlgorithmAttempts = 1000

// Obfuscate expands data into base-B digits, then walks the model emitting
// tokens such that each step encodes one digit, restarting with fresh
// randomness whenever the walk dead-ends. rng must be non-nil; callers that
// need deterministic output inject a seeded *rand.Rand.
func (m *Model) Obfuscate(data []byte, rng *rand.Rand) (string, error) {
	term, ok := m.successors(termToken)
	if !ok || len(term) == 0 {
		return "", ErrAlgorithmExhausted
	}

	digits := make([]int, 0, len(data)*m.width)
	for _, b := range data {
		digits = append(digits, byteToDigits(b, m.base, m.width)...)
	}

	for attempt := 0; attempt < maxAlgorithmAttempts; attempt++ {
		tokens, err := m.tryObfuscate(digits, term, rng)
		if err == nil {
			return m.fmt.Join(tokens), nil
		}
		if err != errAlgorithmFail {
			return "", err
		}
	}
	return "", ErrAlgorithmExhausted
}

func (m *Model) tryObfuscate(digits []int, term []successor, rng *rand.Rand) ([]string, error) {
	initial := rng.Intn(len(term))

	out := make([]string, 0, len(digits)+1)
	last := termToken

	emitted, err := m.emit(last, initial, rng)
	if err != nil {
		return nil, err
	}
	last = m.appendEmitted(&out, emitted, last)

	for _, d := range digits {
		emitted, err := m.emit(last, d, rng)
		if err != nil {
			return nil, err
		}
		last = m.appendEmitted(&out, emitted, last)
	}
	return out, nil
}

// appendEmitted renders each emitted token (TERM -> sentence terminator)
// onto out and returns the new "last" state.
func (m *Model) appendEmitted(out *[]string, emitted []string, last string) string {
	for _, t := range emitted {
		if t == termToken {
			*out = append(*out, m.fmt.SentenceTerminator())
		} else {
			*out = append(*out, t)
		}
		last = t
	}
	return last
}

// emit returns the tokens to append so that the walk from last encodes the
// digit value: a single token when last has more successors than the
// alphabet size, otherwise whatever walk the search finds (a single token
// when last has exactly as many successors as the alphabet size, a
// multi-token run when it has fewer).
func (m *Model) emit(last string, value int, rng *rand.Rand) ([]string, error) {
	lastSucc, ok := m.successors(last)
	if !ok {
		return nil, errAlgorithmFail
	}

	if len(lastSucc) > m.base {
		if value < 0 || value >= len(lastSucc) {
			return nil, errAlgorithmFail
		}
		return []string{lastSucc[value].token}, nil
	}

	return m.searchMultiToken(last, lastSucc, value, rng)
}

// searchNode is one frame of the DFS over candidate walks.
type searchNode struct {
	path      []string
	remaining int
	count     int
}

// searchMultiToken runs a depth-first search over walks starting at last,
// accumulating successor-list widths until their sum reaches the alphabet
// size, then indexes the final step by whatever of value is left over.
// lastSucc is successors(last), passed in to avoid a redundant lookup.
func (m *Model) searchMultiToken(last string, lastSucc []successor, value int, rng *rand.Rand) ([]string, error) {
	stack := []searchNode{{path: []string{last}, remaining: value, count: len(lastSucc)}}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		tail := node.path[len(node.path)-1]
		tailSucc, ok := m.successors(tail)
		if !ok {
			continue
		}

		if node.count >= m.base {
			if node.remaining >= 0 && node.remaining < len(tailSucc) {
				chosen := tailSucc[node.remaining].token
				result := append([]string{}, node.path[1:]...)
				result = append(result, chosen)
				return result, nil
			}
			continue // dead end: not enough successors to index remaining, backtrack
		}

		upperBound := node.remaining
		if upperBound > len(tailSucc)-1 {
			upperBound = len(tailSucc) - 1
		}
		if upperBound < 0 {
			continue
		}

		indices := make([]int, upperBound+1)
		for i := range indices {
			indices[i] = i
		}
		if upperBound > 0 {
			rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		}

		for _, idx := range indices {
			childToken := tailSucc[idx].token
			childSucc, ok := m.successors(childToken)
			childDegree := 0
			if ok {
				childDegree = len(childSucc)
			}
			rv := node.remaining - idx
			newCount := node.count + childDegree

			// Pruning: this child cannot serve as the final token (would
			// dead-end on the very next pop), so skip expanding it.
			if newCount >= m.base && childDegree <= rv {
				continue
			}

			newPath := make([]string, len(node.path)+1)
			copy(newPath, node.path)
			newPath[len(node.path)] = childToken
			stack = append(stack, searchNode{path: newPath, remaining: rv, count: newCount})
		}
	}
	return nil, errAlgorithmFail
}
