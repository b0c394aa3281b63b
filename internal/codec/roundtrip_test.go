package codec

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"testing"

	"github.com/cylance/MarkovObfuscate/internal/formatter"
)

func loadCorpus(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

// nonZero maps a byte into [1,255]: the Binary formatter's sentence
// terminator is the literal NUL byte, so trained tokens must avoid it to
// stay distinguishable from TERM on decode.
func nonZero(b byte) byte {
	if b == 0 {
		return 255
	}
	return b
}

// binaryCorpus returns a synthetic corpus exercising the full [1,255] byte
// range with varied adjacency, suitable for training a Binary-formatted
// model. NUL is reserved as the sentence separator.
func binaryCorpus() []byte {
	var buf bytes.Buffer
	for rep := 0; rep < 6; rep++ {
		for b := 0; b < 256; b++ {
			buf.WriteByte(nonZero(byte(b + rep*37)))
			buf.WriteByte(nonZero(byte(b*3 + rep)))
		}
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func roundTrip(t *testing.T, m *Model, payload []byte, rng *rand.Rand) {
	t.Helper()
	encoded, err := m.Obfuscate(payload, rng)
	if err != nil {
		t.Fatalf("Obfuscate(%d bytes) error: %v", len(payload), err)
	}
	got, err := m.Deobfuscate(encoded)
	if err != nil {
		t.Fatalf("Deobfuscate error: %v (encoded=%q)", err, encoded)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %v, want %v", got, payload)
	}
}

func payloadOfLen(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte((i*31 + 7) % 256)
	}
	return p
}

// TestRoundTripUniversalProperty covers decode(encode(x)) == x across
// B in {16, 64}, all three formatters, and |x| in {0, 1, 64, 1024}.
func TestRoundTripUniversalProperty(t *testing.T) {
	book := loadCorpus(t, "../../testdata/book.txt")
	lyrics := loadCorpus(t, "../../testdata/lyrics.txt")
	bin := binaryCorpus()

	type variant struct {
		name   string
		fmt    formatter.Formatter
		corpus string
		binary bool
	}
	variants := []variant{
		{"default", formatter.Default{}, book, false},
		{"lyrics", formatter.Lyrics{}, lyrics, false},
		{"binary", formatter.Binary{}, "", true},
	}

	for _, base := range []int{16, 64} {
		for _, v := range variants {
			m, err := NewModel(base, v.fmt)
			if err != nil {
				t.Fatal(err)
			}
			if v.binary {
				m.LearnBook(string(bin))
			} else {
				m.LearnBook(v.corpus)
			}
			rng := rand.New(rand.NewSource(int64(base)*1000 + int64(len(v.name))))
			for _, n := range []int{0, 1, 64, 1024} {
				roundTrip(t, m, payloadOfLen(n), rng)
			}
		}
	}
}

// TestRoundTripKnownSentenceBase16 round trips a plain English sentence
// through a book-trained, base-16 model.
func TestRoundTripKnownSentenceBase16(t *testing.T) {
	book := loadCorpus(t, "../../testdata/book.txt")
	m, err := NewModel(16, formatter.Default{})
	if err != nil {
		t.Fatal(err)
	}
	m.LearnBook(book)

	payload := []byte("This is a test message to prove the concept.")
	roundTrip(t, m, payload, rand.New(rand.NewSource(1)))
}

// TestRoundTripBinaryFormatterFullByteRange round trips every byte value
// 0..255 through a Binary-formatted, base-64 model.
func TestRoundTripBinaryFormatterFullByteRange(t *testing.T) {
	m, err := NewModel(64, formatter.Binary{})
	if err != nil {
		t.Fatal(err)
	}
	m.LearnBook(string(binaryCorpus()))

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	roundTrip(t, m, payload, rand.New(rand.NewSource(2)))
}

// TestRoundTripManyRandomLargePayloads runs 100 independent round trips of
// random 1024-byte payloads against a base-64 model.
func TestRoundTripManyRandomLargePayloads(t *testing.T) {
	book := loadCorpus(t, "../../testdata/book.txt")
	m, err := NewModel(64, formatter.Default{})
	if err != nil {
		t.Fatal(err)
	}
	m.LearnBook(book)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		payload := make([]byte, 1024)
		rng.Read(payload)
		roundTrip(t, m, payload, rng)
	}
}

// TestDeobfuscateRejectsUnknownToken checks that decoding text containing a
// token never seen in training fails with ErrUnknownToken.
func TestDeobfuscateRejectsUnknownToken(t *testing.T) {
	book := loadCorpus(t, "../../testdata/book.txt")
	m, err := NewModel(16, formatter.Default{})
	if err != nil {
		t.Fatal(err)
	}
	m.LearnBook(book)

	_, err = m.Deobfuscate("zzzqxw never seen anywhere in training.")
	var unk *ErrUnknownToken
	if !errors.As(err, &unk) {
		t.Fatalf("Deobfuscate on foreign text error = %v, want *ErrUnknownToken", err)
	}
}

// TestNewModelRejectsBaseOfOne checks that a base of 1 (no usable alphabet)
// is rejected at construction.
func TestNewModelRejectsBaseOfOne(t *testing.T) {
	_, err := NewModel(1, formatter.Default{})
	if err != ErrInvalidBase {
		t.Fatalf("NewModel(1, ...) error = %v, want ErrInvalidBase", err)
	}
}

// TestRoundTripSuccessorCountEqualsBase exercises the boundary where a
// token's out-degree exactly equals B: emit's multi-token search resolves
// such a step to a single token on its very first stack frame (count already
// >= base with an empty path), so the decoder must treat == base as a
// single-token step too, not as the start of a run. Every token except TERM
// has exactly two successors here, so each payload digit crosses that
// boundary.
func TestRoundTripSuccessorCountEqualsBase(t *testing.T) {
	m, err := NewModel(2, formatter.Default{})
	if err != nil {
		t.Fatal(err)
	}
	m.LearnSentence("a b.")
	m.LearnSentence("a c.")
	m.LearnSentence("b c.")
	m.LearnSentence("c b.")

	toks, _, ok := m.Successors("a")
	if !ok || len(toks) != 2 {
		t.Fatalf("successors(a) = %v, want exactly 2 entries (== base)", toks)
	}

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 50; i++ {
		roundTrip(t, m, payloadOfLen(8), rng)
	}
}

// TestWidthInvariant checks that every model's width matches the
// ceil(log_B(256))+1 guard-digit formula, for every base in range.
func TestWidthInvariant(t *testing.T) {
	for base := 2; base <= 256; base++ {
		m, err := NewModel(base, formatter.Default{})
		if err != nil {
			t.Fatal(err)
		}
		if m.Width() != digitWidth(base) {
			t.Fatalf("base %d: Model.Width() = %d, digitWidth = %d", base, m.Width(), digitWidth(base))
		}
	}
}
